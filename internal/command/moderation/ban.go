package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/discord/snapshot"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/verify"
)

type BanCommand struct{}

func (c *BanCommand) Name() string             { return "ban" }
func (c *BanCommand) Description() string      { return "Ban a user from the server" }
func (c *BanCommand) Category() string         { return config.CategoryModeration }
func (c *BanCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionBanMembers} }
func (c *BanCommand) Checks() verify.CheckSet  { return memberChecks }

func (c *BanCommand) SlashDefinition() *discordgo.ApplicationCommand {
	minDays := float64(0)
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			userOption("Who to ban"),
			reasonOption(),
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "delete_days",
				Description: "Days of messages to delete (0-7)",
				MinValue:    &minDays,
				MaxValue:    7,
			},
		},
	}
}

// TargetOptional lets users who already left be banned; they have nothing to verify.
func (c *BanCommand) TargetOptional() bool { return true }

// Target is the member when the user is in the server, nil when Discord says they are not.
// Any other lookup failure stops the ban.
func (c *BanCommand) Target(ctx *command.SlashInteractionContext) (verify.Target, error) {
	id := ctx.Options().ID("user")
	if id == "" {
		return nil, errNoUser
	}
	m, err := ctx.Services.Snapshot.Member(ctx.Event.GuildID, id)
	switch {
	case errors.Is(err, snapshot.ErrUnknownMember):
		return nil, nil
	case err != nil:
		return nil, lookupFailed(id, err)
	}
	return m, nil
}

func (c *BanCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	opts := sc.Options()
	userID := opts.ID("user")
	if stop, err := protected(sc, userID); stop {
		return err
	}
	if err := respond.Defer(sc.Session, sc.Event, false); err != nil {
		return err
	}

	// A ban supersedes anything still pending for the user, such as a timed unmute.
	key := actorKey(sc, userID)
	handle := sc.Services.Actions.Acquire(key)
	defer sc.Services.Actions.Release(key, handle)

	return apply(ctx, sc, enforce.Action{
		Kind:              enforce.KindBan,
		GuildID:           sc.Event.GuildID,
		UserID:            userID,
		DeleteMessageDays: opts.Int("delete_days", 0),
	}, "🔨 Banned", fmt.Sprintf("<@%s> has been banned.", userID))
}

func init() {
	register(&BanCommand{})
}
