// Package retrylimit runs an operation with a bounded retry budget, exponential backoff and
// an optional adaptive rate limiter that slows down when the remote side pushes back.
//
// Example usage:
//
//	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)
//	cfg := retrylimit.DefaultConfig()
//	cfg.MaxAttempts = 3
//	cfg.Classify = func(err error) retrylimit.Class { ... }
//
//	err := retrylimit.Do(ctx, func(ctx context.Context) error {
//	    return doSomeWork(ctx)
//	}, lim, cfg)
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// =============================================================================
// Limiter
// =============================================================================

// AdaptiveLimiter is a rate limit that grows on success and shrinks when the remote side
// rate-limits us. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	cooldown  time.Duration
	lastError time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
//
// Parameters:
//   - initial: starting requests per second
//   - min, max: bounds for the rate
//   - stepUp: increment on success
//   - stepDown: multiplier applied when rate limited (e.g. 0.5 to halve)
func NewAdaptiveLimiter(initial, min, max rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if min < 1 {
		min = 1
	}
	if initial < min {
		initial = min
	}
	if max < initial {
		max = initial
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burst(initial)),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
		cooldown: 10 * time.Second,
	}
}

// Wait blocks until a token is available or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate unless we were rate limited recently.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > a.cooldown {
		a.setLimit(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited lowers the rate after the remote side pushed back.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.setLimit(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) setLimit(l rate.Limit) {
	l = max(a.minLimit, min(a.maxLimit, l))
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burst(l))
	}
}

func burst(l rate.Limit) int { return max(1, int(l)) }

// =============================================================================
// Classification
// =============================================================================

// Class tells Do what to do with an error.
type Class int

const (
	// ClassFatal stops immediately and returns the error as is.
	ClassFatal Class = iota
	// ClassRetry backs off exponentially and tries again.
	ClassRetry
	// ClassRateLimited slows the limiter and tries again after RateLimitDelay or the
	// error's own RetryAfter.
	ClassRateLimited
)

// Classifier maps an error to a Class.
type Classifier func(error) Class

// RetryAfterError is implemented by errors that know how long to wait.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("retrylimit: attempts exhausted")

// ExhaustedError is returned when the budget ran out. It wraps the last error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exceeded: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// =============================================================================
// Retry
// =============================================================================

// Config configures Do.
type Config struct {
	MaxAttempts    int           // total attempts including the first, at least 1
	InitialDelay   time.Duration // first backoff
	MaxDelay       time.Duration // backoff ceiling
	RateLimitDelay time.Duration // wait after a rate-limited attempt without RetryAfter
	Multiplier     float64       // backoff growth
	Jitter         bool          // add up to 25% random delay
	Classify       Classifier    // nil retries everything
	OnRetry        func(attempt int, err error, wait time.Duration)
	Logger         *zerolog.Logger
}

// DefaultConfig returns a configuration suited to chat platform REST calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Do runs fn until it succeeds, returns a fatal error, ctx ends, or the budget is spent.
func Do(ctx context.Context, fn func(ctx context.Context) error, lim *AdaptiveLimiter, cfg Config) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Classify == nil {
		cfg.Classify = func(error) Class { return ClassRetry }
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	delay := cfg.InitialDelay
	var last error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				logger.Debug().Int("attempt", attempt).Msg("Succeeded after retry")
			}
			return nil
		}
		last = err

		class := cfg.Classify(err)
		if class == ClassFatal {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		var wait time.Duration
		switch class {
		case ClassRateLimited:
			if lim != nil {
				lim.RateLimited()
			}
			wait = cfg.RateLimitDelay
			var ra RetryAfterError
			if errors.As(err, &ra) && ra.RetryAfter() > 0 {
				wait = ra.RetryAfter()
			}
		default:
			wait = delay
			if cfg.Jitter {
				wait = addJitter(wait)
			}
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Attempt failed, retrying")
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

// addJitter adds up to 25% random delay.
func addJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/4)))
}
