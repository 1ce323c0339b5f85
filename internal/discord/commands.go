package discord

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/datastore"
	"github.com/keshon/warden/pkg/cmd"
)

// commandSession is the part of *discordgo.Session that manages application commands.
type commandSession interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, c *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

// CommandSyncer keeps a guild's slash commands in line with the registry. Definition
// hashes are cached per guild so unchanged commands are not re-created on every start.
type CommandSyncer struct {
	s        commandSession
	registry *cmd.Registry
	cache    *datastore.DataStore
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func NewCommandSyncer(s commandSession, registry *cmd.Registry, cache *datastore.DataStore, logger zerolog.Logger) *CommandSyncer {
	return &CommandSyncer{
		s:        s,
		registry: registry,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Every(25*time.Millisecond), 1),
		logger:   logger,
	}
}

// Sync deletes commands Discord has that the registry does not, and creates those whose
// definition changed or that Discord lost.
func (c *CommandSyncer) Sync(ctx context.Context, appID, guildID string) error {
	log := c.logger.With().Str("guild", guildID).Logger()

	remote, err := c.s.ApplicationCommands(appID, guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("list commands for %s: %w", guildID, err)
	}
	remoteByName := make(map[string]*discordgo.ApplicationCommand, len(remote))
	for _, rc := range remote {
		remoteByName[rc.Name] = rc
	}

	local := c.definitions()
	localNames := make(map[string]struct{}, len(local))
	for _, d := range local {
		localNames[d.Name] = struct{}{}
	}
	hashes := c.loadHashes(guildID)

	for name, rc := range remoteByName {
		if _, ok := localNames[name]; ok {
			continue
		}
		log.Info().Str("command", name).Msg("Deleting obsolete command")
		if err := c.s.ApplicationCommandDelete(appID, guildID, rc.ID, discordgo.WithContext(ctx)); err != nil {
			log.Error().Err(err).Str("command", name).Msg("Failed to delete command")
			continue
		}
		delete(hashes, name)
	}

	created := 0
	for _, d := range local {
		h := hashCommand(d)
		if _, exists := remoteByName[d.Name]; exists && hashes[d.Name] == h {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		if _, err := c.s.ApplicationCommandCreate(appID, guildID, d, discordgo.WithContext(ctx)); err != nil {
			log.Error().Err(err).Str("command", d.Name).Msg("Failed to register command")
			continue
		}
		hashes[d.Name] = h
		created++
	}
	if created > 0 {
		log.Info().Int("count", created).Msg("Registered changed commands")
	}
	return c.cache.Put(cacheKey(guildID), hashes)
}

// RemoveAll deletes every command the bot has in a guild and forgets its hashes.
func (c *CommandSyncer) RemoveAll(ctx context.Context, appID, guildID string) error {
	existing, err := c.s.ApplicationCommands(appID, guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("list commands for %s: %w", guildID, err)
	}
	for _, rc := range existing {
		if err := c.s.ApplicationCommandDelete(appID, guildID, rc.ID, discordgo.WithContext(ctx)); err != nil {
			c.logger.Error().Err(err).Str("guild", guildID).Str("command", rc.Name).Msg("Failed to delete command")
		}
	}
	return c.Forget(guildID)
}

// Forget drops the cached hashes of a guild.
func (c *CommandSyncer) Forget(guildID string) error {
	return c.cache.Delete(cacheKey(guildID))
}

func (c *CommandSyncer) definitions() []*discordgo.ApplicationCommand {
	var defs []*discordgo.ApplicationCommand
	for _, rc := range c.registry.GetAll() {
		if def := commandDefinition(rc); def != nil {
			defs = append(defs, def)
		}
	}
	return defs
}

func (c *CommandSyncer) loadHashes(guildID string) map[string]string {
	out := make(map[string]string)
	if _, err := c.cache.Get(cacheKey(guildID), &out); err != nil {
		c.logger.Warn().Err(err).Str("guild", guildID).Msg("Command hash cache unreadable")
		return make(map[string]string)
	}
	return out
}

func cacheKey(guildID string) string { return "commands/" + guildID }

// commandDefinition extracts the slash definition of a registered command, looking
// through middleware wrappers.
func commandDefinition(c cmd.Command) *discordgo.ApplicationCommand {
	slash, ok := cmd.Root(c).(command.SlashProvider)
	if !ok {
		return nil
	}
	def := slash.SlashDefinition()
	if def == nil {
		return nil
	}
	if def.Type == 0 {
		def.Type = discordgo.ChatApplicationCommand
	}
	// Discord requires every bit of DefaultMemberPermissions, so only a single required
	// permission can be mirrored there; the middleware still enforces the rest.
	if meta, ok := cmd.Root(c).(command.DiscordMeta); ok && def.DefaultMemberPermissions == nil {
		if perms := meta.UserPermissions(); len(perms) == 1 {
			p := perms[0]
			def.DefaultMemberPermissions = &p
		}
	}
	return def
}

// hashCommand returns a deterministic SHA-1 of a command's stable fields.
func hashCommand(c *discordgo.ApplicationCommand) string {
	stable := map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"type":        c.Type,
	}
	if c.DefaultMemberPermissions != nil {
		stable["permissions"] = *c.DefaultMemberPermissions
	}
	if len(c.Options) > 0 {
		stable["options"] = normalizeOptions(c.Options)
	}
	data, _ := json.Marshal(stable)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	out := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if o.MinValue != nil {
			entry["min_value"] = *o.MinValue
		}
		if o.MaxValue != 0 {
			entry["max_value"] = o.MaxValue
		}
		if o.MinLength != nil {
			entry["min_length"] = *o.MinLength
		}
		if o.MaxLength != 0 {
			entry["max_length"] = o.MaxLength
		}
		if len(o.ChannelTypes) > 0 {
			entry["channel_types"] = o.ChannelTypes
		}
		if o.Autocomplete {
			entry["autocomplete"] = true
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, ch := range o.Choices {
				choices[j] = map[string]any{"name": ch.Name, "value": ch.Value}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		out[i] = entry
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return out
}
