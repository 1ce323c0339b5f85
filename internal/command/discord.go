package command

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/coordinator"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/discord/snapshot"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/engine"
	"github.com/keshon/warden/internal/guild"
	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/verify"
	"github.com/keshon/warden/pkg/cmd"
)

// Services are shared by every invocation. The runtime builds one set at startup.
type Services struct {
	Storage  storage.Backend
	Gate     *engine.Gate
	Executor *enforce.Executor
	Actions  *coordinator.Holder[coordinator.ActorKey]
	Snapshot *snapshot.Builder
	Registry *cmd.Registry
	Metrics  *metrics.Metrics
	Config   *config.Config
	Logger   zerolog.Logger
}

// SlashInteractionContext is what the runtime passes as cmd.Invocation.Data.
type SlashInteractionContext struct {
	Session  respond.Session
	Event    *discordgo.InteractionCreate
	Services *Services

	guild *guild.Context
}

// GuildContext snapshots the invocation on first use and returns the same value after.
func (c *SlashInteractionContext) GuildContext() (guild.Context, error) {
	if c.guild != nil {
		return *c.guild, nil
	}
	gctx, err := c.Services.Snapshot.Context(c.Event.GuildID, c.Event.ChannelID, c.Event.Member)
	if err != nil {
		return guild.Context{}, err
	}
	c.guild = &gctx
	return gctx, nil
}

// Invoker returns the user who ran the command.
func (c *SlashInteractionContext) Invoker() *discordgo.User {
	if c.Event.Member != nil && c.Event.Member.User != nil {
		return c.Event.Member.User
	}
	if c.Event.User != nil {
		return c.Event.User
	}
	return &discordgo.User{ID: "unknown", Username: "Unknown"}
}

// SlashProvider is how a command describes itself to Discord.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

// DiscordCommand is what individual commands implement.
type DiscordCommand interface {
	Name() string
	Description() string
	Category() string
	UserPermissions() []int64
	Run(ctx context.Context, c *SlashInteractionContext) error
}

// Checker lists the structural checks the command's target must pass.
type Checker interface {
	Checks() verify.CheckSet
}

// Targeted commands resolve their target from the interaction. A command with checks
// must return a target unless it is TargetOptional.
type Targeted interface {
	Target(c *SlashInteractionContext) (verify.Target, error)
}

// TargetOptional commands may return a nil target, which skips verification.
type TargetOptional interface {
	TargetOptional() bool
}

// DefaultDisabled commands stay off until an override enables them.
type DefaultDisabled interface {
	DefaultDisabled() bool
}

// Exempt commands skip the authorization gate. Used for the override command itself so a
// guild cannot lock itself out.
type Exempt interface {
	AuthorizationExempt() bool
}

// DiscordMeta is read by middleware without knowing the concrete command type.
type DiscordMeta interface {
	Category() string
	UserPermissions() []int64
	Authorization() (engine.Definition, bool)
	Target(c *SlashInteractionContext) (verify.Target, error)
}

// DiscordAdapter makes a DiscordCommand a cmd.Command.
type DiscordAdapter struct {
	Cmd DiscordCommand
}

var (
	_ cmd.Command   = (*DiscordAdapter)(nil)
	_ DiscordMeta   = (*DiscordAdapter)(nil)
	_ SlashProvider = (*DiscordAdapter)(nil)
)

func (a *DiscordAdapter) Name() string             { return a.Cmd.Name() }
func (a *DiscordAdapter) Description() string      { return a.Cmd.Description() }
func (a *DiscordAdapter) Category() string         { return a.Cmd.Category() }
func (a *DiscordAdapter) UserPermissions() []int64 { return a.Cmd.UserPermissions() }

func (a *DiscordAdapter) Run(ctx context.Context, inv *cmd.Invocation) error {
	c, ok := inv.Data.(*SlashInteractionContext)
	if !ok {
		return fmt.Errorf("%s: unsupported invocation %T", a.Name(), inv.Data)
	}
	return a.Cmd.Run(ctx, c)
}

func (a *DiscordAdapter) SlashDefinition() *discordgo.ApplicationCommand {
	if sp, ok := a.Cmd.(SlashProvider); ok {
		return sp.SlashDefinition()
	}
	return nil
}

// Authorization returns the gate definition; false when the command is exempt.
func (a *DiscordAdapter) Authorization() (engine.Definition, bool) {
	if ex, ok := a.Cmd.(Exempt); ok && ex.AuthorizationExempt() {
		return engine.Definition{}, false
	}
	def := engine.Definition{CommandID: a.Cmd.Name(), DefaultEnabled: true}
	if ch, ok := a.Cmd.(Checker); ok {
		def.Checks = ch.Checks()
	}
	if dd, ok := a.Cmd.(DefaultDisabled); ok && dd.DefaultDisabled() {
		def.DefaultEnabled = false
	}
	if to, ok := a.Cmd.(TargetOptional); ok {
		def.OptionalTarget = to.TargetOptional()
	}
	return def, true
}

func (a *DiscordAdapter) Target(c *SlashInteractionContext) (verify.Target, error) {
	if t, ok := a.Cmd.(Targeted); ok {
		return t.Target(c)
	}
	return nil, nil
}

// RegisterCommand wraps discordCmd in mws and adds it to the default registry.
func RegisterCommand(discordCmd DiscordCommand, mws ...cmd.Middleware) {
	cmd.DefaultRegistry.MustRegister(cmd.Apply(&DiscordAdapter{Cmd: discordCmd}, mws...))
}
