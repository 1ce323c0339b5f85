package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/pkg/cmd"
)

var PermissionNames = map[int64]string{
	discordgo.PermissionKickMembers:      "Kick Members",
	discordgo.PermissionBanMembers:       "Ban Members",
	discordgo.PermissionAdministrator:    "Administrator",
	discordgo.PermissionManageChannels:   "Manage Channels",
	discordgo.PermissionManageGuild:      "Manage Server",
	discordgo.PermissionViewAuditLogs:    "View Audit Logs",
	discordgo.PermissionManageMessages:   "Manage Messages",
	discordgo.PermissionManageNicknames:  "Manage Nicknames",
	discordgo.PermissionManageRoles:      "Manage Roles",
	discordgo.PermissionModerateMembers:  "Moderate Members",
	discordgo.PermissionVoiceMuteMembers: "Mute Members",
}

// WithUserPermissionCheck requires at least one of the command's UserPermissions.
// Administrators and the configured developer always pass. Permissions come from the
// interaction itself, already resolved for the channel.
func WithUserPermissionCheck() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			v, ok := inv.Data.(*command.SlashInteractionContext)
			if !ok || v.Event.Member == nil || v.Event.Member.User == nil {
				return c.Run(ctx, inv)
			}
			meta, ok := cmd.Root(c).(command.DiscordMeta)
			if !ok || len(meta.UserPermissions()) == 0 {
				return c.Run(ctx, inv)
			}

			perms := v.Event.Member.Permissions
			if perms&discordgo.PermissionAdministrator != 0 {
				return c.Run(ctx, inv)
			}
			if v.Services != nil && v.Services.Config != nil &&
				v.Services.Config.DeveloperID != "" && v.Event.Member.User.ID == v.Services.Config.DeveloperID {
				return c.Run(ctx, inv)
			}

			required := meta.UserPermissions()
			for _, p := range required {
				if perms&p != 0 {
					return c.Run(ctx, inv)
				}
			}

			allowed := make([]string, 0, len(required))
			for _, p := range required {
				name := PermissionNames[p]
				if name == "" {
					name = fmt.Sprintf("0x%x", p)
				}
				allowed = append(allowed, name)
			}
			msg := fmt.Sprintf(
				"You need at least one of the following permissions to run this command:\n`%s`",
				strings.Join(allowed, "`, `"),
			)
			return respond.EmbedEphemeral(v.Session, v.Event, respond.Denied("missing_permission", msg))
		})
	}
}
