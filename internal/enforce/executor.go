package enforce

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/pkg/retrylimit"
)

// Executor applies actions through a Platform. Safe for concurrent use; ordering between
// concurrent actions for the same member is the caller's business (see coordinator).
type Executor struct {
	platform Platform
	prober   Prober
	breaker  *gobreaker.CircuitBreaker
	limiter  *retrylimit.AdaptiveLimiter
	retry    retrylimit.Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetries sets the default number of extra attempts for transient faults.
func WithRetries(n int) Option {
	return func(e *Executor) { e.retry.MaxAttempts = max(0, n) + 1 }
}

// WithBackoff sets the initial and maximum delay between attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(e *Executor) {
		e.retry.InitialDelay = initial
		e.retry.MaxDelay = maxDelay
		e.retry.RateLimitDelay = initial
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(e *Executor) { e.breaker = cb }
}

// WithLimiter paces platform calls through an adaptive limiter.
func WithLimiter(l *retrylimit.AdaptiveLimiter) Option {
	return func(e *Executor) { e.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// BreakerSettings returns the default breaker configuration: open after five consecutive
// platform failures, probe again after thirty seconds.
func BreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// NewExecutor returns an Executor for p. If p also implements Prober, state is probed
// before each call.
func NewExecutor(p Platform, opts ...Option) *Executor {
	e := &Executor{
		platform: p,
		breaker:  gobreaker.NewCircuitBreaker(BreakerSettings("platform")),
		retry:    retrylimit.DefaultConfig(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	if pr, ok := p.(Prober); ok {
		e.prober = pr
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply performs a on the platform. An effect that is already in place yields
// OutcomeAlreadyApplied, never an error. Transient faults are retried within the budget;
// permanent faults return at once. Failures are *Fault values.
func (e *Executor) Apply(ctx context.Context, a Action, opts Options) (Outcome, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	log := e.logger.With().
		Str("kind", a.Kind.String()).
		Str("guild", a.GuildID).
		Str("user", a.UserID).
		Logger()

	if e.alreadyApplied(ctx, a, log) {
		log.Debug().Msg("Action already in effect")
		e.metrics.Enforcement(a.Kind.String(), OutcomeAlreadyApplied.String())
		return OutcomeAlreadyApplied, nil
	}

	cfg := e.retry
	if opts.Retries >= 0 {
		cfg.MaxAttempts = opts.Retries + 1
	}
	cfg.Classify = classify
	cfg.Logger = &log
	cfg.OnRetry = func(int, error, time.Duration) { e.metrics.EnforcementRetry(a.Kind.String()) }

	var (
		attempts  int
		already   bool
		permanent error
	)
	err := retrylimit.Do(ctx, func(ctx context.Context) error {
		attempts++
		_, err := e.breaker.Execute(func() (interface{}, error) {
			err := e.call(ctx, a, opts.Reason)
			switch {
			case errors.Is(err, ErrAlreadyApplied):
				already = true
				return nil, nil
			case errors.Is(err, ErrPermanent):
				// The platform answered; that is not a health problem.
				permanent = err
				return nil, nil
			}
			return nil, err
		})
		if err != nil {
			return err
		}
		return permanent
	}, e.limiter, cfg)

	switch {
	case err == nil && already:
		e.metrics.Enforcement(a.Kind.String(), OutcomeAlreadyApplied.String())
		return OutcomeAlreadyApplied, nil
	case err == nil:
		log.Info().Str("reason", opts.Reason).Msg("Action applied")
		e.metrics.Enforcement(a.Kind.String(), OutcomeApplied.String())
		return OutcomeApplied, nil
	}

	kind := FaultPermanent
	if errors.Is(err, retrylimit.ErrExhausted) || ctx.Err() != nil || classify(err) != retrylimit.ClassFatal {
		kind = FaultTransient
	}
	fault := &Fault{Kind: kind, Action: a, Attempts: attempts, Err: err}
	log.Warn().Err(err).Str("fault", kind.String()).Int("attempts", attempts).Msg("Action failed")
	e.metrics.Enforcement(a.Kind.String(), "fault_"+kind.String())
	return 0, fault
}

func (e *Executor) call(ctx context.Context, a Action, reason string) error {
	switch a.Kind {
	case KindBan:
		return e.platform.Ban(ctx, a.GuildID, a.UserID, a.DeleteMessageDays, reason)
	case KindUnban:
		return e.platform.Unban(ctx, a.GuildID, a.UserID, reason)
	case KindKick:
		return e.platform.Kick(ctx, a.GuildID, a.UserID, reason)
	case KindMute:
		return e.platform.SetMute(ctx, a.GuildID, a.UserID, e.now().Add(a.Duration), reason)
	case KindUnmute:
		return e.platform.SetMute(ctx, a.GuildID, a.UserID, time.Time{}, reason)
	case KindAddRole:
		return e.platform.AddRole(ctx, a.GuildID, a.UserID, a.RoleID, reason)
	case KindRemoveRole:
		return e.platform.RemoveRole(ctx, a.GuildID, a.UserID, a.RoleID, reason)
	}
	return ErrInvalidAction
}

// alreadyApplied probes the platform. Probe failures are logged and ignored; the action
// itself will surface any real problem. Mutes are always re-applied so a new duration
// replaces the old one.
func (e *Executor) alreadyApplied(ctx context.Context, a Action, log zerolog.Logger) bool {
	if e.prober == nil {
		return false
	}
	var (
		done bool
		err  error
	)
	switch a.Kind {
	case KindBan:
		done, err = e.prober.IsBanned(ctx, a.GuildID, a.UserID)
	case KindUnban:
		done, err = e.prober.IsBanned(ctx, a.GuildID, a.UserID)
		done = err == nil && !done
	case KindKick:
		done, err = e.prober.IsMember(ctx, a.GuildID, a.UserID)
		done = err == nil && !done
	case KindUnmute:
		done, err = e.prober.IsMuted(ctx, a.GuildID, a.UserID)
		done = err == nil && !done
	case KindAddRole:
		done, err = e.prober.HasRole(ctx, a.GuildID, a.UserID, a.RoleID)
	case KindRemoveRole:
		done, err = e.prober.HasRole(ctx, a.GuildID, a.UserID, a.RoleID)
		done = err == nil && !done
	default:
		return false
	}
	if err != nil {
		log.Debug().Err(err).Msg("State probe failed")
		return false
	}
	return done
}
