// Package discord runs the gateway session: it keeps slash commands registered, routes
// interactions to the command registry and cleans up after guilds the bot leaves.
package discord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/datastore"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/pkg/cmd"
	"github.com/keshon/warden/pkg/util"
)

// syncWorkers bounds concurrent per-guild command syncs at startup.
const syncWorkers = 4

type Bot struct {
	dg       *discordgo.Session
	cfg      *config.Config
	services *command.Services
	registry *cmd.Registry
	syncer   *CommandSyncer
	logger   zerolog.Logger

	ctx    context.Context
	ready  atomic.Bool
	guilds sync.Map // guild ids seen in Ready
}

// New builds a bot over an unopened session. cache holds command definition hashes.
func New(dg *discordgo.Session, cfg *config.Config, services *command.Services, cache *datastore.DataStore) *Bot {
	return &Bot{
		dg:       dg,
		cfg:      cfg,
		services: services,
		registry: services.Registry,
		syncer:   NewCommandSyncer(dg, services.Registry, cache, services.Logger),
		logger:   services.Logger,
		ctx:      context.Background(),
	}
}

// Ready reports whether the gateway connection is up.
func (b *Bot) Ready() bool { return b.ready.Load() }

// BotID is the bot's own user id, empty before the first Ready.
func (b *Bot) BotID() string {
	if b.dg == nil || b.dg.State == nil || b.dg.State.User == nil {
		return ""
	}
	return b.dg.State.User.ID
}

// Run opens the session and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.dg.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMembers | discordgo.IntentGuildModeration
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onResumed)
	b.dg.AddHandler(b.onDisconnect)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onGuildDelete)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.ready.Store(false)
	b.logger.Info().Msg("Shutdown signal received, cleaning up")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)

	var wanted []string
	for _, g := range r.Guilds {
		b.guilds.Store(g.ID, struct{}{})
		if b.cfg.IsBlacklisted(g.ID) {
			b.leave(s, g.ID)
			continue
		}
		wanted = append(wanted, g.ID)
	}

	if !b.cfg.InitSlashCommands {
		b.logger.Info().Msg("Registering slash commands skipped")
	} else {
		appID := r.User.ID
		go func() {
			if err := b.syncGuilds(b.ctx, appID, wanted); err != nil {
				b.logger.Error().Err(err).Msg("Failed to sync commands")
			}
		}()
	}

	b.logger.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord bot is running")
}

// syncGuilds registers commands in every guild, a few at a time. The first failure
// stops the syncs still pending; the next start picks them up.
func (b *Bot) syncGuilds(ctx context.Context, appID string, guildIDs []string) error {
	return util.Parallel(ctx, guildIDs, syncWorkers, func(ctx context.Context, guildID string) error {
		if err := b.syncer.Sync(ctx, appID, guildID); err != nil {
			return fmt.Errorf("guild %s: %w", guildID, err)
		}
		return nil
	})
}

func (b *Bot) onResumed(*discordgo.Session, *discordgo.Resumed) { b.ready.Store(true) }

func (b *Bot) onDisconnect(*discordgo.Session, *discordgo.Disconnect) {
	b.ready.Store(false)
	b.logger.Warn().Msg("Disconnected from gateway")
}

// onGuildCreate also fires for every guild right after Ready; only guilds joined later
// need a sync here.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if _, seen := b.guilds.LoadOrStore(g.ID, struct{}{}); seen {
		return
	}
	b.logger.Info().Str("guild", g.ID).Str("name", g.Name).Msg("Bot added to guild")

	if b.cfg.IsBlacklisted(g.ID) {
		b.leave(s, g.ID)
		return
	}
	if !b.cfg.InitSlashCommands {
		return
	}
	if err := b.syncer.Sync(b.ctx, s.State.User.ID, g.ID); err != nil {
		b.logger.Error().Err(err).Str("guild", g.ID).Msg("Failed to register commands for new guild")
	}
}

// onGuildDelete with Unavailable set is an outage, not a removal.
func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	b.forgetGuild(b.ctx, g.ID)
}

// forgetGuild drops everything kept for a guild the bot no longer belongs to.
func (b *Bot) forgetGuild(ctx context.Context, guildID string) {
	b.guilds.Delete(guildID)
	log := b.logger.With().Str("guild", guildID).Logger()

	cancelled := 0
	for _, k := range b.services.Actions.Keys() {
		if k.GuildID == guildID && b.services.Actions.Cancel(k) {
			cancelled++
		}
	}
	if err := b.services.Storage.DeleteGuildOverrides(ctx, guildID); err != nil {
		log.Error().Err(err).Msg("Failed to delete guild overrides")
	}
	if err := b.services.Storage.DeleteGuild(ctx, guildID); err != nil {
		log.Error().Err(err).Msg("Failed to delete guild data")
	}
	if b.syncer != nil {
		if err := b.syncer.Forget(guildID); err != nil {
			log.Warn().Err(err).Msg("Failed to drop command cache")
		}
	}
	log.Info().Int("cancelled", cancelled).Msg("Bot removed from guild")
}

func (b *Bot) leave(s *discordgo.Session, guildID string) {
	b.logger.Info().Str("guild", guildID).Msg("Leaving blacklisted guild")
	if err := s.GuildLeave(guildID); err != nil {
		b.logger.Error().Err(err).Str("guild", guildID).Msg("Failed to leave guild")
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.handleInteraction(b.ctx, s, i)
}

// handleInteraction routes slash commands to the registry. Each interaction gets a fresh
// context so guild snapshots are never shared between invocations.
func (b *Bot) handleInteraction(ctx context.Context, s respond.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		b.logger.Debug().Int("type", int(i.Type)).Msg("Ignoring interaction")
		return
	}
	data := i.ApplicationCommandData()
	if data.CommandType != 0 && data.CommandType != discordgo.ChatApplicationCommand {
		return
	}
	if i.GuildID != "" && b.cfg.IsBlacklisted(i.GuildID) {
		return
	}

	c := b.registry.Get(data.Name)
	if c == nil {
		b.logger.Warn().Str("command", data.Name).Msg("Unknown command")
		return
	}

	sc := &command.SlashInteractionContext{Session: s, Event: i, Services: b.services}
	if err := c.Run(ctx, &cmd.Invocation{Data: sc}); err != nil {
		b.logger.Error().Err(err).Str("command", data.Name).Str("guild", i.GuildID).Msg("Error running slash command")
		e := respond.Error(fmt.Errorf("error running slash command: %w", err))
		// A deferred reply can only be edited.
		if respond.EmbedEphemeral(s, i, e) != nil {
			_ = respond.Edit(s, i, e)
		}
	}
}
