package moderation

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/verify"
)

type KickCommand struct{}

func (c *KickCommand) Name() string             { return "kick" }
func (c *KickCommand) Description() string      { return "Remove a member from the server" }
func (c *KickCommand) Category() string         { return config.CategoryModeration }
func (c *KickCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionKickMembers} }
func (c *KickCommand) Checks() verify.CheckSet  { return memberChecks }

func (c *KickCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			userOption("Who to kick"),
			reasonOption(),
		},
	}
}

func (c *KickCommand) Target(ctx *command.SlashInteractionContext) (verify.Target, error) {
	return memberTarget(ctx)
}

func (c *KickCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	userID := sc.Options().ID("user")
	if stop, err := protected(sc, userID); stop {
		return err
	}
	if err := respond.Defer(sc.Session, sc.Event, false); err != nil {
		return err
	}

	key := actorKey(sc, userID)
	handle := sc.Services.Actions.Acquire(key)
	defer sc.Services.Actions.Release(key, handle)

	return apply(ctx, sc, enforce.Action{
		Kind:    enforce.KindKick,
		GuildID: sc.Event.GuildID,
		UserID:  userID,
	}, "👢 Kicked", fmt.Sprintf("<@%s> has been kicked.", userID))
}

func init() {
	register(&KickCommand{})
}
