package middleware

import (
	"context"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/pkg/cmd"
)

// WithGuildOnly refuses invocations from direct messages.
func WithGuildOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if v, ok := inv.Data.(*command.SlashInteractionContext); ok && (v.Event.GuildID == "" || v.Event.Member == nil) {
				return respond.EmbedEphemeral(v.Session, v.Event, respond.Info("This command only works inside a server."))
			}
			return c.Run(ctx, inv)
		})
	}
}
