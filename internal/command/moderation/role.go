package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/verify"
)

// RoleCommand grants or removes a role. The role, not the member, is the verified target:
// a moderator may only hand out roles below their own and below the bot's.
type RoleCommand struct{}

func (c *RoleCommand) Name() string             { return "role" }
func (c *RoleCommand) Description() string      { return "Give or take a role from a member" }
func (c *RoleCommand) Category() string         { return config.CategoryModeration }
func (c *RoleCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionManageRoles} }

func (c *RoleCommand) Checks() verify.CheckSet {
	return verify.Checks(
		verify.CheckIsRole,
		verify.CheckNotManaged,
		verify.CheckNotEveryone,
		verify.CheckBelowInvoker,
		verify.CheckBelowBot,
	)
}

func (c *RoleCommand) SlashDefinition() *discordgo.ApplicationCommand {
	opts := func() []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			userOption("The member"),
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "The role",
				Required:    true,
			},
			reasonOption(),
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Give a role",
				Options:     opts(),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Take a role away",
				Options:     opts(),
			},
		},
	}
}

func (c *RoleCommand) Target(ctx *command.SlashInteractionContext) (verify.Target, error) {
	id := ctx.Options().ID("role")
	if id == "" {
		return nil, errors.New("no role given")
	}
	r, err := ctx.Services.Snapshot.Role(ctx.Event.GuildID, id)
	if err != nil {
		return nil, fmt.Errorf("<@&%s> is not a role in this server", id)
	}
	return r, nil
}

func (c *RoleCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	sub, opts := sc.Subcommand()
	userID, roleID := opts.ID("user"), opts.ID("role")
	if _, err := sc.Services.Snapshot.Member(sc.Event.GuildID, userID); err != nil {
		return respond.EmbedEphemeral(sc.Session, sc.Event,
			respond.Error(fmt.Errorf("<@%s> is not a member of this server", userID)))
	}

	a := enforce.Action{GuildID: sc.Event.GuildID, UserID: userID, RoleID: roleID}
	var title, done string
	switch sub {
	case "add":
		a.Kind = enforce.KindAddRole
		title, done = "➕ Role added", fmt.Sprintf("<@%s> now has <@&%s>.", userID, roleID)
	case "remove":
		a.Kind = enforce.KindRemoveRole
		title, done = "➖ Role removed", fmt.Sprintf("<@%s> no longer has <@&%s>.", userID, roleID)
	default:
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("Unknown action."))
	}

	if err := respond.Defer(sc.Session, sc.Event, false); err != nil {
		return err
	}
	return apply(ctx, sc, a, title, done)
}

func init() {
	register(&RoleCommand{})
}
