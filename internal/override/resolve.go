package override

import "github.com/keshon/warden/internal/guild"

// Verdict is the effective state of a command for one invocation. It is derived on every
// call and never stored.
type Verdict struct {
	Enabled     bool
	MatchedRule *Rule
}

// Resolve picks the rule that governs commandID in ctx and returns its verdict, or the
// command's static default when nothing matches.
//
// A more specific target type always wins (user, then channel, then role, then guild).
// Within a type the highest priority wins, and among equal priorities the lowest target id
// wins so that an invoker holding several overridden roles gets a stable answer.
//
// Resolve does no I/O and keeps no state; callers fetch rules fresh for every invocation.
func Resolve(commandID string, ctx guild.Context, rules []Rule, defaultEnabled bool) Verdict {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if r.CommandID != commandID || r.GuildID != ctx.GuildID || !matches(r, ctx) {
			continue
		}
		if best == nil || outranks(r, best) {
			best = r
		}
	}
	if best == nil {
		return Verdict{Enabled: defaultEnabled}
	}
	matched := *best
	return Verdict{Enabled: matched.Enabled, MatchedRule: &matched}
}

func matches(r *Rule, ctx guild.Context) bool {
	switch r.TargetType {
	case TargetUser:
		return r.TargetID == ctx.InvokerID
	case TargetRole:
		return ctx.HasRole(r.TargetID)
	case TargetChannel:
		return r.TargetID == ctx.ChannelID
	case TargetGuild:
		return true
	default:
		return false
	}
}

func outranks(a, b *Rule) bool {
	if sa, sb := a.TargetType.specificity(), b.TargetType.specificity(); sa != sb {
		return sa > sb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.TargetID < b.TargetID
}
