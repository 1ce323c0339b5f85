package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/pkg/cmd"
)

// WithCommandLogger records every executed command in guild history and metrics.
func WithCommandLogger() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)

			v, ok := inv.Data.(*command.SlashInteractionContext)
			if !ok || v.Services == nil {
				return err
			}
			s := v.Services
			s.Metrics.Command(c.Name())

			e := v.Event
			user := v.Invoker()
			rec := storage.CommandHistoryRecord{
				ChannelID: e.ChannelID,
				UserID:    user.ID,
				Username:  user.Username,
				Command:   c.Name(),
				Param:     describeOptions(e),
				Datetime:  time.Now(),
			}
			if s.Snapshot != nil && s.Snapshot.State != nil {
				if ch, chErr := s.Snapshot.State.Channel(e.ChannelID); chErr == nil {
					rec.ChannelName = ch.Name
				}
				if g, gErr := s.Snapshot.State.Guild(e.GuildID); gErr == nil {
					rec.GuildName = g.Name
				}
			}
			if s.Storage != nil && e.GuildID != "" {
				if logErr := s.Storage.AppendCommandHistory(ctx, e.GuildID, rec); logErr != nil {
					s.Logger.Warn().Err(logErr).Str("command", c.Name()).Msg("Failed to log command")
				}
			}
			return err
		})
	}
}

// describeOptions flattens the invoked options into "sub key=value" form.
func describeOptions(e *discordgo.InteractionCreate) string {
	if e.Type != discordgo.InteractionApplicationCommand {
		return ""
	}
	var parts []string
	var walk func(opts []*discordgo.ApplicationCommandInteractionDataOption)
	walk = func(opts []*discordgo.ApplicationCommandInteractionDataOption) {
		for _, o := range opts {
			switch o.Type {
			case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
				parts = append(parts, o.Name)
				walk(o.Options)
			default:
				parts = append(parts, o.Name+"="+formatValue(o.Value))
			}
		}
	}
	walk(e.ApplicationCommandData().Options)
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
