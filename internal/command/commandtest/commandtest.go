// Package commandtest builds an in-memory guild, platform and service set for command
// and middleware tests.
package commandtest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/coordinator"
	"github.com/keshon/warden/internal/discord/snapshot"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/engine"
	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/internal/storage/sqlite"
	"github.com/keshon/warden/pkg/cmd"
)

const (
	GuildID   = "g1"
	ChannelID = "c1"
	OwnerID   = "owner"
	BotID     = "bot"
	ModID     = "mod"    // top role position 5
	HelperID  = "helper" // top role position 2
	AdminID   = "admin"  // top role position 8
)

// Session records interaction replies.
type Session struct {
	mu        sync.Mutex
	Responses []*discordgo.InteractionResponse
	Edits     []*discordgo.WebhookEdit
	// EditErr, when set, is returned by every edit after it is recorded.
	EditErr error
}

func (s *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
	return nil
}

func (s *Session) InteractionResponseEdit(_ *discordgo.Interaction, e *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Edits = append(s.Edits, e)
	if s.EditErr != nil {
		return nil, s.EditErr
	}
	return &discordgo.Message{}, nil
}

// LastEmbed returns the most recent embed sent either directly or by editing a
// deferred response.
func (s *Session) LastEmbed() *discordgo.MessageEmbed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.Edits); n > 0 && s.Edits[n-1].Embeds != nil && len(*s.Edits[n-1].Embeds) > 0 {
		return (*s.Edits[n-1].Embeds)[0]
	}
	for i := len(s.Responses) - 1; i >= 0; i-- {
		if d := s.Responses[i].Data; d != nil && len(d.Embeds) > 0 {
			return d.Embeds[0]
		}
	}
	return nil
}

// Platform is an in-memory enforce.Platform and enforce.Prober.
type Platform struct {
	mu    sync.Mutex
	Bans  map[string]bool
	Roles map[string][]string
	Muted map[string]time.Time
	Calls []string
	// Fail, when set, is returned by every mutating call.
	Fail error
}

func NewPlatform() *Platform {
	return &Platform{Bans: map[string]bool{}, Roles: map[string][]string{}, Muted: map[string]time.Time{}}
}

func (p *Platform) record(call string) error {
	p.Calls = append(p.Calls, call)
	return p.Fail
}

func (p *Platform) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

func (p *Platform) HasRoleNow(userID, roleID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.Roles[userID], roleID)
}

func (p *Platform) Ban(_ context.Context, _, u string, _ int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ban " + u); err != nil {
		return err
	}
	p.Bans[u] = true
	return nil
}

func (p *Platform) Unban(_ context.Context, _, u, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("unban " + u); err != nil {
		return err
	}
	delete(p.Bans, u)
	return nil
}

func (p *Platform) Kick(_ context.Context, _, u, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("kick " + u)
}

func (p *Platform) SetMute(_ context.Context, _, u string, until time.Time, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("mute " + u); err != nil {
		return err
	}
	if until.IsZero() {
		delete(p.Muted, u)
	} else {
		p.Muted[u] = until
	}
	return nil
}

func (p *Platform) AddRole(_ context.Context, _, u, r, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("add_role " + u + " " + r); err != nil {
		return err
	}
	if !slices.Contains(p.Roles[u], r) {
		p.Roles[u] = append(p.Roles[u], r)
	}
	return nil
}

func (p *Platform) RemoveRole(_ context.Context, _, u, r, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("remove_role " + u + " " + r); err != nil {
		return err
	}
	p.Roles[u] = slices.DeleteFunc(p.Roles[u], func(x string) bool { return x == r })
	return nil
}

func (p *Platform) IsBanned(_ context.Context, _, u string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Bans[u], nil
}

func (p *Platform) IsMember(context.Context, string, string) (bool, error) { return true, nil }

func (p *Platform) IsMuted(_ context.Context, _, u string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Muted[u]
	return ok, nil
}

func (p *Platform) HasRole(_ context.Context, _, u, r string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.Roles[u], r), nil
}

// State returns a guild with roles at positions 0 (@everyone), 2, 5, 8 and 10 (bot).
func State(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	require.NoError(t, st.GuildAdd(&discordgo.Guild{
		ID:      GuildID,
		Name:    "Test Guild",
		OwnerID: OwnerID,
		Roles: []*discordgo.Role{
			{ID: GuildID, Name: "@everyone", Position: 0},
			{ID: "r-helper", Name: "helper", Position: 2},
			{ID: "r-mute", Name: "muted", Position: 3},
			{ID: "r-mod", Name: "mod", Position: 5},
			{ID: "r-admin", Name: "admin", Position: 8},
			{ID: "r-bot", Name: "warden", Position: 10, Managed: true},
		},
		Channels: []*discordgo.Channel{
			{ID: ChannelID, GuildID: GuildID, Name: "general", Type: discordgo.ChannelTypeGuildText},
		},
	}))
	members := map[string][]string{
		BotID:    {"r-bot"},
		ModID:    {"r-mod"},
		HelperID: {"r-helper"},
		AdminID:  {"r-admin"},
		OwnerID:  {},
	}
	for id, roles := range members {
		require.NoError(t, st.MemberAdd(&discordgo.Member{
			GuildID: GuildID,
			User:    &discordgo.User{ID: id, Username: id, Bot: id == BotID},
			Roles:   roles,
		}))
	}
	return st
}

// Services wires a complete service set over in-memory parts.
func Services(t *testing.T, p *Platform) *command.Services {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New(nil)
	holder := coordinator.New[coordinator.ActorKey]()
	holder.OnSupersede = func(coordinator.ActorKey, *coordinator.Handle) { m.Superseded() }

	return &command.Services{
		Storage:  store,
		Gate:     engine.NewGate(store, engine.WithMetrics(m)),
		Executor: enforce.NewExecutor(p, enforce.WithBackoff(time.Millisecond, time.Millisecond), enforce.WithMetrics(m)),
		Actions:  holder,
		Snapshot: &snapshot.Builder{State: State(t), BotID: func() string { return BotID }},
		Registry: cmd.NewRegistry(),
		Metrics:  m,
		Config:   &config.Config{StorageDriver: "sqlite", LogFormat: "console", BreakerFailures: 5},
	}
}

// Option builds a slash option; nested options make a subcommand.
func Option(name string, value any, nested ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	o := &discordgo.ApplicationCommandInteractionDataOption{Name: name, Value: value}
	switch value.(type) {
	case bool:
		o.Type = discordgo.ApplicationCommandOptionBoolean
	case float64:
		o.Type = discordgo.ApplicationCommandOptionInteger
	default:
		o.Type = discordgo.ApplicationCommandOptionString
	}
	if value == nil {
		o.Type = discordgo.ApplicationCommandOptionSubCommand
		o.Options = nested
	}
	return o
}

// Slash builds an interaction context for name invoked by userID in the test guild.
func Slash(s *command.Services, sess *Session, userID string, perms int64, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *command.SlashInteractionContext {
	member, _ := s.Snapshot.State.Member(GuildID, userID)
	var roles []string
	if member != nil {
		roles = member.Roles
	}
	return &command.SlashInteractionContext{
		Session:  sess,
		Services: s,
		Event: &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			ID:        "i-" + name,
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   GuildID,
			ChannelID: ChannelID,
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: userID, Username: userID},
				Roles:       roles,
				Permissions: perms,
			},
			Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		}},
	}
}

// Run invokes c with the given context as a registry would.
func Run(c cmd.Command, sc *command.SlashInteractionContext) error {
	return c.Run(context.Background(), &cmd.Invocation{Data: sc})
}
