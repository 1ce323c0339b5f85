// Package settings holds the commands that configure the bot per guild.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/middleware"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/pkg/cmd"
)

// OverrideCommand manages per-guild command overrides. It is exempt from overrides
// itself so a guild can always undo a rule.
type OverrideCommand struct{}

func (c *OverrideCommand) Name() string              { return "override" }
func (c *OverrideCommand) Description() string       { return "Enable or disable commands for the server, a role, a channel or a user" }
func (c *OverrideCommand) Category() string          { return config.CategorySettings }
func (c *OverrideCommand) UserPermissions() []int64  { return []int64{discordgo.PermissionManageGuild} }
func (c *OverrideCommand) AuthorizationExempt() bool { return true }

func (c *OverrideCommand) SlashDefinition() *discordgo.ApplicationCommand {
	scope := func() []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Apply to a role"},
			{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Apply to a channel"},
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Apply to a user"},
		}
	}
	commandOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "command",
		Description: "Command name",
		Required:    true,
	}
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Create or update an override; without a scope it applies to the whole server",
				Options: append([]*discordgo.ApplicationCommandOption{
					commandOpt,
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "Whether the command is allowed in this scope",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "priority",
						Description: "Wins over other overrides of the same kind; higher first",
					},
				}, scope()...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove an override",
				Options:     append([]*discordgo.ApplicationCommandOption{commandOpt}, scope()...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List the overrides in this server",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "command",
						Description: "Only this command",
					},
				},
			},
		},
	}
}

func (c *OverrideCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	sub, opts := sc.Subcommand()
	switch sub {
	case "set":
		return c.set(ctx, sc, opts)
	case "remove":
		return c.remove(ctx, sc, opts)
	case "list":
		return c.list(ctx, sc, opts)
	}
	return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("Unknown action."))
}

func (c *OverrideCommand) set(ctx context.Context, sc *command.SlashInteractionContext, opts command.Options) error {
	commandID, err := overridable(sc.Services.Registry, opts.String("command"))
	if err != nil {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Error(err))
	}
	targetID, targetType, err := scope(sc.Event.GuildID, opts)
	if err != nil {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Error(err))
	}

	rule := override.Rule{
		CommandID:  commandID,
		GuildID:    sc.Event.GuildID,
		TargetID:   targetID,
		TargetType: targetType,
		Enabled:    opts.Bool("enabled", true),
		Priority:   opts.Int("priority", 0),
	}
	err = sc.Services.Storage.UpsertOverride(ctx, rule)
	if errors.Is(err, override.ErrOtherGuild) {
		return respond.EmbedEphemeral(sc.Session, sc.Event,
			respond.Error(fmt.Errorf("an override for `/%s` on %s is held by another server", commandID, mention(targetID, targetType))))
	}
	if err != nil {
		return fmt.Errorf("store override: %w", err)
	}
	sc.Services.Logger.Info().
		Str("guild", rule.GuildID).
		Str("command", rule.CommandID).
		Str("target", rule.TargetType.String()+":"+rule.TargetID).
		Bool("enabled", rule.Enabled).
		Msg("Override set")
	return respond.Embed(sc.Session, sc.Event, respond.Success("Override saved", describeRule(rule)))
}

func (c *OverrideCommand) remove(ctx context.Context, sc *command.SlashInteractionContext, opts command.Options) error {
	commandID := strings.ToLower(strings.TrimSpace(opts.String("command")))
	targetID, targetType, err := scope(sc.Event.GuildID, opts)
	if err != nil {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Error(err))
	}

	rules, err := sc.Services.Storage.GetOverrides(ctx, commandID, sc.Event.GuildID)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	key := override.Key{CommandID: commandID, TargetID: targetID, TargetType: targetType}
	found := false
	for _, r := range rules {
		if r.Key() == key {
			found = true
			break
		}
	}
	if !found {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("There is no such override."))
	}
	if err := sc.Services.Storage.DeleteOverride(ctx, commandID, targetID, targetType); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return respond.Embed(sc.Session, sc.Event,
		respond.Success("Override removed", fmt.Sprintf("`/%s` no longer has an override for %s.", commandID, mention(targetID, targetType))))
}

func (c *OverrideCommand) list(ctx context.Context, sc *command.SlashInteractionContext, opts command.Options) error {
	rules, err := sc.Services.Storage.ListGuildOverrides(ctx, sc.Event.GuildID)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}
	only := strings.ToLower(strings.TrimSpace(opts.String("command")))
	var lines []string
	override.SortRules(rules)
	for _, r := range rules {
		if only != "" && r.CommandID != only {
			continue
		}
		lines = append(lines, "• "+describeRule(r))
	}
	if len(lines) == 0 {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("No overrides are set."))
	}
	return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Success("Overrides", strings.Join(lines, "\n")))
}

// overridable checks that name is a registered command that goes through the gate.
func overridable(reg *cmd.Registry, name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "/")))
	if reg == nil {
		return name, nil
	}
	c := reg.Get(name)
	if c == nil {
		return "", fmt.Errorf("unknown command `%s`", name)
	}
	if meta, ok := cmd.Root(c).(command.DiscordMeta); ok {
		if _, gated := meta.Authorization(); !gated {
			return "", fmt.Errorf("`/%s` cannot be overridden", name)
		}
	}
	return name, nil
}

// scope picks the override target from the options. No scope means the whole guild.
func scope(guildID string, opts command.Options) (string, override.TargetType, error) {
	var (
		set        []string
		targetID   = guildID
		targetType = override.TargetGuild
	)
	for _, s := range []struct {
		name string
		typ  override.TargetType
	}{
		{"role", override.TargetRole},
		{"channel", override.TargetChannel},
		{"user", override.TargetUser},
	} {
		if id := opts.ID(s.name); id != "" {
			set = append(set, s.name)
			targetID, targetType = id, s.typ
		}
	}
	if len(set) > 1 {
		return "", 0, errors.New("pick at most one of role, channel or user")
	}
	return targetID, targetType, nil
}

func mention(id string, t override.TargetType) string {
	switch t {
	case override.TargetRole:
		return "<@&" + id + ">"
	case override.TargetChannel:
		return "<#" + id + ">"
	case override.TargetUser:
		return "<@" + id + ">"
	}
	return "the server"
}

func describeRule(r override.Rule) string {
	state := "disabled"
	if r.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("`/%s` %s for %s (priority %d)", r.CommandID, state, mention(r.TargetID, r.TargetType), r.Priority)
}

func register(c command.DiscordCommand) {
	command.RegisterCommand(c,
		middleware.WithGuildOnly(),
		middleware.WithUserPermissionCheck(),
		middleware.WithAuthorization(),
		middleware.WithCommandLogger(),
	)
}

func init() {
	register(&OverrideCommand{})
}
