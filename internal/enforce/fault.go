package enforce

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"

	"github.com/keshon/warden/pkg/retrylimit"
)

// Sentinels platforms wrap their errors with.
var (
	// ErrAlreadyApplied means the platform refused because the effect is already in place.
	ErrAlreadyApplied = errors.New("enforce: already applied")
	// ErrRateLimited is a transient fault that also slows the executor's limiter.
	ErrRateLimited = errors.New("enforce: rate limited")
	// ErrTransient covers timeouts and server-side errors.
	ErrTransient = errors.New("enforce: transient platform fault")
	// ErrPermanent covers faults that retrying cannot fix.
	ErrPermanent = errors.New("enforce: permanent platform fault")

	ErrMissingPermission = fmt.Errorf("%w: missing permission", ErrPermanent)
	ErrTargetGone        = fmt.Errorf("%w: target no longer exists", ErrPermanent)
)

// FaultKind separates faults that exhausted the retry budget from those never retried.
type FaultKind int

const (
	FaultTransient FaultKind = iota + 1
	FaultPermanent
)

func (k FaultKind) String() string {
	if k == FaultPermanent {
		return "permanent"
	}
	return "transient"
}

// Fault is the error Apply returns when an action could not be applied.
type Fault struct {
	Kind     FaultKind
	Action   Action
	Attempts int
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s of user %s failed (%s, %d attempts): %v",
		f.Action.Kind, f.Action.UserID, f.Kind, f.Attempts, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// IsTransient reports whether err is a transient Fault.
func IsTransient(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == FaultTransient
}

// IsPermanent reports whether err is a permanent Fault.
func IsPermanent(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == FaultPermanent
}

// classify maps platform errors onto retry classes. Unknown errors are not retried.
func classify(err error) retrylimit.Class {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, gobreaker.ErrTooManyRequests):
		return retrylimit.ClassRateLimited
	case errors.Is(err, ErrTransient),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, context.DeadlineExceeded):
		return retrylimit.ClassRetry
	case errors.As(err, &netErr) && netErr.Timeout():
		return retrylimit.ClassRetry
	default:
		return retrylimit.ClassFatal
	}
}
