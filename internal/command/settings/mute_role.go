package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/verify"
)

// MuteRoleCommand configures the role /mute assigns. Without one, /mute uses timeouts.
type MuteRoleCommand struct{}

func (c *MuteRoleCommand) Name() string             { return "mute-role" }
func (c *MuteRoleCommand) Description() string      { return "Configure the role used by /mute" }
func (c *MuteRoleCommand) Category() string         { return config.CategorySettings }
func (c *MuteRoleCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionManageRoles} }

// Checks make sure the bot can actually hand the role out.
func (c *MuteRoleCommand) Checks() verify.CheckSet {
	return verify.Checks(verify.CheckIsRole, verify.CheckNotManaged, verify.CheckNotEveryone, verify.CheckBelowBot)
}

func (c *MuteRoleCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Use this role for mutes",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "The mute role", Required: true},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "clear", Description: "Go back to timeouts"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "show", Description: "Show the configured role"},
		},
	}
}

// TargetOptional: only "set" names a role.
func (c *MuteRoleCommand) TargetOptional() bool { return true }

// Target is the role for "set" and nothing otherwise.
func (c *MuteRoleCommand) Target(sc *command.SlashInteractionContext) (verify.Target, error) {
	sub, opts := sc.Subcommand()
	if sub != "set" {
		return nil, nil
	}
	r, err := sc.Services.Snapshot.Role(sc.Event.GuildID, opts.ID("role"))
	if err != nil {
		return nil, fmt.Errorf("<@&%s> is not a role in this server", opts.ID("role"))
	}
	return r, nil
}

func (c *MuteRoleCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	sub, opts := sc.Subcommand()
	guildID := sc.Event.GuildID
	store := sc.Services.Storage

	switch sub {
	case "set":
		roleID := opts.ID("role")
		if err := store.SetRole(ctx, guildID, storage.RoleMute, roleID); err != nil {
			return fmt.Errorf("set mute role: %w", err)
		}
		return respond.Embed(sc.Session, sc.Event, respond.Success("Mute role set", fmt.Sprintf("/mute now assigns <@&%s>.", roleID)))
	case "clear":
		if err := store.SetRole(ctx, guildID, storage.RoleMute, ""); err != nil {
			return fmt.Errorf("clear mute role: %w", err)
		}
		return respond.Embed(sc.Session, sc.Event, respond.Success("Mute role cleared", "/mute now uses timeouts."))
	case "show":
		roleID, err := store.Role(ctx, guildID, storage.RoleMute)
		if errors.Is(err, storage.ErrRoleNotSet) {
			return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("No mute role is set; /mute uses timeouts."))
		}
		if err != nil {
			return fmt.Errorf("read mute role: %w", err)
		}
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info(fmt.Sprintf("Mute role: <@&%s>", roleID)))
	}
	return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("Unknown action."))
}

func init() {
	register(&MuteRoleCommand{})
}
