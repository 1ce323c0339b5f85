// Package verify decides whether a live role, channel or member is a structurally eligible
// target for a command: right kind, right channel type, and below the invoker and the bot
// in the role hierarchy.
package verify

import (
	"errors"

	"github.com/keshon/warden/internal/guild"
)

// ErrInvalidTarget is returned when no target is passed. It is a bug in the calling command,
// not a verification failure.
var ErrInvalidTarget = errors.New("verify: target is nil")

// Result is the outcome of Verify. Success is false exactly when FailedCheck is set, and
// Reason is non-empty on failure.
type Result struct {
	Success     bool
	FailedCheck Check
	Reason      string
}

// Failed reports whether a check failed.
func (r Result) Failed() bool { return r.FailedCheck != 0 }

func pass() Result { return Result{Success: true} }

func fail(c Check) Result {
	return Result{FailedCheck: c, Reason: Reason(c)}
}

// Verify evaluates checks against target in canonical order and stops at the first failure.
// The target must come from live platform state since hierarchy checks read its current
// position. An empty set always succeeds.
func Verify(target Target, checks CheckSet, ctx guild.Context) (Result, error) {
	if isNil(target) {
		return Result{}, ErrInvalidTarget
	}
	for _, c := range checks.List() {
		p, ok := predicates[c]
		if !ok {
			continue
		}
		if !p.test(target, ctx) {
			return fail(c), nil
		}
	}
	return pass(), nil
}

func isNil(t Target) bool {
	switch v := t.(type) {
	case nil:
		return true
	case *Role:
		return v == nil
	case *Channel:
		return v == nil
	case *Member:
		return v == nil
	}
	return false
}
