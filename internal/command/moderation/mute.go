package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/verify"
)

// after is replaced in tests.
var after = time.After

type MuteCommand struct{}

func (c *MuteCommand) Name() string             { return "mute" }
func (c *MuteCommand) Description() string      { return "Mute a member for a while" }
func (c *MuteCommand) Category() string         { return config.CategoryModeration }
func (c *MuteCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionModerateMembers} }
func (c *MuteCommand) Checks() verify.CheckSet  { return memberChecks }

func (c *MuteCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			userOption("Who to mute"),
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "duration",
				Description: "How long, e.g. 10m, 2h, 3d (max 28d)",
				Required:    true,
			},
			reasonOption(),
		},
	}
}

func (c *MuteCommand) Target(ctx *command.SlashInteractionContext) (verify.Target, error) {
	return memberTarget(ctx)
}

// Run mutes with the guild's mute role when one is configured and schedules its removal;
// otherwise it uses a platform timeout. Either way the new mute replaces any pending
// unmute for the same user.
func (c *MuteCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	opts := sc.Options()
	userID := opts.ID("user")
	if stop, err := protected(sc, userID); stop {
		return err
	}
	d, err := command.ParseDuration(opts.String("duration"))
	if err == nil && d > enforce.MaxMute {
		err = fmt.Errorf("mute can last at most %s", enforce.MaxMute)
	}
	if err != nil {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Error(err))
	}

	roleID, err := sc.Services.Storage.Role(ctx, sc.Event.GuildID, storage.RoleMute)
	if err != nil && !errors.Is(err, storage.ErrRoleNotSet) {
		return fmt.Errorf("read mute role: %w", err)
	}
	if err := respond.Defer(sc.Session, sc.Event, false); err != nil {
		return err
	}

	done := fmt.Sprintf("<@%s> is muted for %s.", userID, d)
	key := actorKey(sc, userID)
	if roleID == "" {
		handle := sc.Services.Actions.Acquire(key)
		defer sc.Services.Actions.Release(key, handle)
		return apply(ctx, sc, enforce.Action{
			Kind:     enforce.KindMute,
			GuildID:  sc.Event.GuildID,
			UserID:   userID,
			Duration: d,
		}, "🔇 Muted", done)
	}

	// A pending unmute must not fire between adding the role and scheduling the new one.
	sc.Services.Actions.Cancel(key)
	add := enforce.Action{Kind: enforce.KindAddRole, GuildID: sc.Event.GuildID, UserID: userID, RoleID: roleID}
	if err := apply(ctx, sc, add, "🔇 Muted", done); err != nil {
		return err
	}
	c.scheduleUnmute(sc, add, d)
	return nil
}

// scheduleUnmute removes the mute role after d unless the ticket is superseded or
// cancelled first. The removal itself is not interrupted once started.
func (c *MuteCommand) scheduleUnmute(sc *command.SlashInteractionContext, add enforce.Action, d time.Duration) {
	s := sc.Services
	log := s.Logger.With().Str("guild", add.GuildID).Str("user", add.UserID).Logger()
	remove := add
	remove.Kind = enforce.KindRemoveRole

	s.Actions.Go(actorKey(sc, add.UserID), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Scheduled unmute dropped")
			return context.Cause(ctx)
		case <-after(d):
		}
		_, err := s.Executor.Apply(context.WithoutCancel(ctx), remove, enforce.DefaultOptions("mute expired"))
		if err == nil {
			log.Info().Msg("Mute expired")
		}
		return err
	}, func(err error) {
		log.Error().Err(err).Msg("Failed to lift mute")
	})
}

func init() {
	register(&MuteCommand{})
}
