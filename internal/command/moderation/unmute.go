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
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/verify"
)

type UnmuteCommand struct{}

func (c *UnmuteCommand) Name() string             { return "unmute" }
func (c *UnmuteCommand) Description() string      { return "Lift a member's mute" }
func (c *UnmuteCommand) Category() string         { return config.CategoryModeration }
func (c *UnmuteCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionModerateMembers} }
func (c *UnmuteCommand) Checks() verify.CheckSet  { return memberChecks }

func (c *UnmuteCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			userOption("Who to unmute"),
			reasonOption(),
		},
	}
}

func (c *UnmuteCommand) Target(ctx *command.SlashInteractionContext) (verify.Target, error) {
	return memberTarget(ctx)
}

// Run cancels a scheduled unmute, then lifts both the mute role and any timeout.
func (c *UnmuteCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	userID := sc.Options().ID("user")
	guildID := sc.Event.GuildID

	roleID, err := sc.Services.Storage.Role(ctx, guildID, storage.RoleMute)
	if err != nil && !errors.Is(err, storage.ErrRoleNotSet) {
		return fmt.Errorf("read mute role: %w", err)
	}
	if err := respond.Defer(sc.Session, sc.Event, false); err != nil {
		return err
	}

	key := actorKey(sc, userID)
	sc.Services.Actions.Cancel(key)
	handle := sc.Services.Actions.Acquire(key)
	defer sc.Services.Actions.Release(key, handle)

	if roleID != "" {
		_, err := sc.Services.Executor.Apply(ctx, enforce.Action{
			Kind:    enforce.KindRemoveRole,
			GuildID: guildID,
			UserID:  userID,
			RoleID:  roleID,
		}, enforce.DefaultOptions(auditReason(sc)))
		if err != nil {
			return reportFault(sc, err)
		}
	}
	return apply(ctx, sc, enforce.Action{
		Kind:    enforce.KindUnmute,
		GuildID: guildID,
		UserID:  userID,
	}, "🔊 Unmuted", fmt.Sprintf("<@%s> can speak again.", userID))
}

func init() {
	register(&UnmuteCommand{})
}
