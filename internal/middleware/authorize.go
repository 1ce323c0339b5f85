package middleware

import (
	"context"
	"fmt"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/engine"
	"github.com/keshon/warden/pkg/cmd"
)

// WithAuthorization runs the engine gate: target verification, then guild overrides.
// A denial is answered ephemerally and the command does not run.
func WithAuthorization() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			v, ok := inv.Data.(*command.SlashInteractionContext)
			if !ok || v.Services == nil || v.Services.Gate == nil {
				return c.Run(ctx, inv)
			}
			meta, ok := cmd.Root(c).(command.DiscordMeta)
			if !ok {
				return c.Run(ctx, inv)
			}
			def, ok := meta.Authorization()
			if !ok {
				return c.Run(ctx, inv)
			}

			gctx, err := v.GuildContext()
			if err != nil {
				return fmt.Errorf("snapshot guild: %w", err)
			}
			target, err := meta.Target(v)
			if err != nil {
				return respond.EmbedEphemeral(v.Session, v.Event, respond.Error(err))
			}

			decision, err := v.Services.Gate.Authorize(ctx, engine.Request{
				Definition:   def,
				GuildContext: gctx,
				Target:       target,
			})
			if err != nil {
				return fmt.Errorf("authorize %s: %w", c.Name(), err)
			}
			if !decision.Proceed {
				v.Services.Logger.Info().
					Str("command", c.Name()).
					Str("guild", gctx.GuildID).
					Str("user", gctx.InvokerID).
					Str("denial", decision.Denial.Error()).
					Msg("Command denied")
				return respond.EmbedEphemeral(v.Session, v.Event,
					respond.Denied(string(decision.Denial.Category), decision.Denial.Reason))
			}
			return c.Run(ctx, inv)
		})
	}
}
