// Package moderation holds the enforcement commands. Each command resolves its target for
// the authorization gate and applies its action through the shared executor.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/coordinator"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/discord/snapshot"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/middleware"
	"github.com/keshon/warden/internal/verify"
)

// memberChecks guard every command aimed at a member.
var memberChecks = verify.Checks(
	verify.CheckIsMember,
	verify.CheckNotBot,
	verify.CheckNotSelf,
	verify.CheckNotOwner,
	verify.CheckBelowInvoker,
	verify.CheckBelowBot,
)

var errNoUser = errors.New("no user given")

func register(c command.DiscordCommand) {
	command.RegisterCommand(c,
		middleware.WithGuildOnly(),
		middleware.WithUserPermissionCheck(),
		middleware.WithAuthorization(),
		middleware.WithCommandLogger(),
	)
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Written to the audit log",
	}
}

// memberTarget resolves the "user" option to a member of the invoking guild.
func memberTarget(c *command.SlashInteractionContext) (verify.Target, error) {
	id := c.Options().ID("user")
	if id == "" {
		return nil, errNoUser
	}
	m, err := c.Services.Snapshot.Member(c.Event.GuildID, id)
	switch {
	case errors.Is(err, snapshot.ErrUnknownMember):
		return nil, fmt.Errorf("<@%s> is not a member of this server", id)
	case err != nil:
		return nil, lookupFailed(id, err)
	}
	return m, nil
}

func lookupFailed(userID string, err error) error {
	return fmt.Errorf("could not look up <@%s>, try again later: %w", userID, err)
}

func actorKey(c *command.SlashInteractionContext, userID string) coordinator.ActorKey {
	return coordinator.ActorKey{GuildID: c.Event.GuildID, UserID: userID}
}

// auditReason prefixes the moderator so the audit log shows who acted through the bot.
func auditReason(c *command.SlashInteractionContext) string {
	reason := c.Options().String("reason")
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("%s: %s", c.Invoker().Username, reason)
}

// protected answers and returns true when userID may not be targeted at all.
func protected(c *command.SlashInteractionContext, userID string) (bool, error) {
	if c.Services.Config == nil || !c.Services.Config.IsProtected(userID) {
		return false, nil
	}
	return true, respond.EmbedEphemeral(c.Session, c.Event, respond.Info(fmt.Sprintf("<@%s> is protected and cannot be moderated.", userID)))
}

// apply runs a and edits the deferred reply with the result. Faults are shown to the
// moderator and returned so they are logged.
func apply(ctx context.Context, c *command.SlashInteractionContext, a enforce.Action, title, done string) error {
	outcome, err := c.Services.Executor.Apply(ctx, a, enforce.DefaultOptions(auditReason(c)))
	if err != nil {
		return reportFault(c, err)
	}
	if outcome == enforce.OutcomeAlreadyApplied {
		done += " (already in effect)"
	}
	return respond.Edit(c.Session, c.Event, respond.Success(title, done))
}

// reportFault shows err on the deferred reply and returns it, along with any edit failure.
func reportFault(c *command.SlashInteractionContext, err error) error {
	if editErr := respond.Edit(c.Session, c.Event, respond.Error(describeFault(err))); editErr != nil {
		return errors.Join(err, editErr)
	}
	return err
}

func describeFault(err error) error {
	var f *enforce.Fault
	if !errors.As(err, &f) {
		return err
	}
	switch {
	case errors.Is(err, enforce.ErrMissingPermission):
		return fmt.Errorf("I am missing the permission to %s <@%s>", f.Action.Kind, f.Action.UserID)
	case errors.Is(err, enforce.ErrTargetGone):
		return fmt.Errorf("<@%s> is no longer available", f.Action.UserID)
	case f.Kind == enforce.FaultTransient:
		return fmt.Errorf("Discord did not respond after %d attempts, try again later", f.Attempts)
	}
	return err
}
