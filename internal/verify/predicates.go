package verify

import "github.com/keshon/warden/internal/guild"

// predicate tests a single check. Checks that only make sense for one target kind pass for
// the other kinds; the Is* checks are how a command pins the kind. Channel type checks are
// themselves type tests and fail for anything that is not a channel.
type predicate struct {
	test   func(t Target, ctx guild.Context) bool
	reason string
}

var predicates = map[Check]predicate{
	CheckIsRole: {
		test:   func(t Target, _ guild.Context) bool { return t.Kind() == KindRole },
		reason: "The target must be a role.",
	},
	CheckIsChannel: {
		test:   func(t Target, _ guild.Context) bool { return t.Kind() == KindChannel },
		reason: "The target must be a channel.",
	},
	CheckIsMember: {
		test:   func(t Target, _ guild.Context) bool { return t.Kind() == KindMember },
		reason: "The target must be a server member.",
	},
	CheckTextChannel: {
		test: func(t Target, _ guild.Context) bool {
			ch, ok := t.(*Channel)
			return ok && ch.Type.TextCapable()
		},
		reason: "The target channel must be a text channel.",
	},
	CheckVoiceChannel: {
		test: func(t Target, _ guild.Context) bool {
			ch, ok := t.(*Channel)
			return ok && ch.Type.VoiceCapable()
		},
		reason: "The target channel must be a voice or stage channel.",
	},
	CheckNotManaged: {
		test: func(t Target, _ guild.Context) bool {
			r, ok := t.(*Role)
			return !ok || !r.Managed
		},
		reason: "That role is managed by an integration and cannot be assigned manually.",
	},
	CheckNotEveryone: {
		test: func(t Target, _ guild.Context) bool {
			r, ok := t.(*Role)
			return !ok || !r.Everyone
		},
		reason: "The @everyone role cannot be targeted.",
	},
	CheckNotBot: {
		test: func(t Target, _ guild.Context) bool {
			m, ok := t.(*Member)
			return !ok || !m.Bot
		},
		reason: "Bots cannot be targeted by this command.",
	},
	CheckNotSelf: {
		test: func(t Target, ctx guild.Context) bool {
			m, ok := t.(*Member)
			return !ok || m.UserID != ctx.InvokerID
		},
		reason: "You cannot target yourself.",
	},
	CheckNotOwner: {
		test: func(t Target, ctx guild.Context) bool {
			m, ok := t.(*Member)
			return !ok || ctx.OwnerID == "" || m.UserID != ctx.OwnerID
		},
		reason: "The server owner cannot be targeted.",
	},
	CheckBelowInvoker: {
		test: func(t Target, ctx guild.Context) bool {
			if m, ok := t.(*Member); ok && ctx.OwnerID != "" && m.UserID == ctx.OwnerID {
				return false
			}
			if ctx.InvokerIsOwner() {
				return true
			}
			pos, ok := position(t)
			return !ok || pos < ctx.TopPosition
		},
		reason: "The target is at or above your highest role in the role hierarchy.",
	},
	CheckBelowBot: {
		test: func(t Target, ctx guild.Context) bool {
			if m, ok := t.(*Member); ok && ctx.OwnerID != "" && m.UserID == ctx.OwnerID {
				return false
			}
			pos, ok := position(t)
			return !ok || pos < ctx.BotTopPosition
		},
		reason: "The target is at or above my highest role in the role hierarchy.",
	},
}

// Reason returns the canned failure message for c.
func Reason(c Check) string {
	if p, ok := predicates[c]; ok {
		return p.reason
	}
	return "The target failed verification."
}
