// Package engine decides whether a guild command may run.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/guild"
	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/verify"
)

// Definition is what the gate needs to know about a command.
type Definition struct {
	CommandID      string
	Checks         verify.CheckSet
	DefaultEnabled bool
	// OptionalTarget lets a command with checks run without a target, such as a ban of a
	// user who is not in the guild. Otherwise a missing target is ErrInvalidTarget.
	OptionalTarget bool
}

// Category is a machine readable denial kind.
type Category string

const (
	VerificationFailed Category = "verification_failed"
	CommandDisabled    Category = "command_disabled"
)

// Denial explains why a command was refused.
type Denial struct {
	Category Category
	Reason   string
	// Check is set for VerificationFailed.
	Check verify.Check
}

func (d *Denial) Error() string {
	if d.Check != 0 {
		return fmt.Sprintf("%s (%s): %s", d.Category, d.Check, d.Reason)
	}
	return fmt.Sprintf("%s: %s", d.Category, d.Reason)
}

type Decision struct {
	Proceed bool
	Denial  *Denial
	Verdict override.Verdict
}

type Request struct {
	Definition   Definition
	GuildContext guild.Context
	// Target may be nil for commands without one.
	Target verify.Target
}

// Gate runs verification then override resolution.
type Gate struct {
	store   override.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Option func(*Gate)

func WithMetrics(m *metrics.Metrics) Option { return func(g *Gate) { g.metrics = m } }
func WithLogger(l zerolog.Logger) Option    { return func(g *Gate) { g.logger = l } }

func NewGate(store override.Store, opts ...Option) *Gate {
	g := &Gate{store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns a Decision for req. Overrides are read from the store on every call so
// changes apply to the next invocation. Denials are not errors; an error means the
// decision could not be made.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	def := req.Definition

	if req.Target == nil && !def.Checks.Empty() && !def.OptionalTarget {
		g.record(def.CommandID, "error")
		return Decision{}, fmt.Errorf("%s: %w", def.CommandID, verify.ErrInvalidTarget)
	}
	if req.Target != nil && !def.Checks.Empty() {
		res, err := verify.Verify(req.Target, def.Checks, req.GuildContext)
		if err != nil {
			g.record(def.CommandID, "error")
			return Decision{}, err
		}
		if !res.Success {
			g.record(def.CommandID, VerificationFailed)
			return Decision{Denial: &Denial{
				Category: VerificationFailed,
				Reason:   res.Reason,
				Check:    res.FailedCheck,
			}}, nil
		}
	}

	rules, err := g.store.GetOverrides(ctx, def.CommandID, req.GuildContext.GuildID)
	if err != nil {
		g.record(def.CommandID, "error")
		return Decision{}, fmt.Errorf("load overrides for %s: %w", def.CommandID, err)
	}
	verdict := override.Resolve(def.CommandID, req.GuildContext, rules, def.DefaultEnabled)
	if !verdict.Enabled {
		reason := "command is disabled by default"
		if verdict.MatchedRule != nil {
			reason = fmt.Sprintf("command is disabled for this %s", verdict.MatchedRule.TargetType)
		}
		g.record(def.CommandID, CommandDisabled)
		return Decision{Verdict: verdict, Denial: &Denial{Category: CommandDisabled, Reason: reason}}, nil
	}

	g.record(def.CommandID, "proceed")
	return Decision{Proceed: true, Verdict: verdict}, nil
}

func (g *Gate) record(commandID string, outcome Category) {
	g.metrics.Decision(commandID, string(outcome))
	if outcome != "proceed" && outcome != "error" {
		g.logger.Debug().Str("command", commandID).Str("outcome", string(outcome)).Msg("Command denied")
	}
}
