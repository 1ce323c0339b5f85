package moderation

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/command/commandtest"
	"github.com/keshon/warden/internal/coordinator"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/pkg/cmd"
)

const admin = discordgo.PermissionAdministrator

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	s    *command.Services
	p    *commandtest.Platform
	sess *commandtest.Session
}

func newHarness(t *testing.T) *harness {
	p := commandtest.NewPlatform()
	return &harness{s: commandtest.Services(t, p), p: p}
}

// run invokes the registered command as the runtime would.
func (h *harness) run(t *testing.T, name, user string, opts ...*discordgo.ApplicationCommandInteractionDataOption) error {
	t.Helper()
	c := cmd.DefaultRegistry.Get(name)
	require.NotNil(t, c, "command %s not registered", name)
	h.sess = &commandtest.Session{}
	return commandtest.Run(c, commandtest.Slash(h.s, h.sess, user, admin, name, opts...))
}

func (h *harness) embed(t *testing.T) *discordgo.MessageEmbed {
	t.Helper()
	e := h.sess.LastEmbed()
	require.NotNil(t, e)
	return e
}

// manualTimer replaces the mute timer until the test ends.
func manualTimer(t *testing.T) chan time.Time {
	ch := make(chan time.Time)
	prev := after
	after = func(time.Duration) <-chan time.Time { return ch }
	t.Cleanup(func() { after = prev })
	return ch
}

func TestBan(t *testing.T) {
	h := newHarness(t)
	user := commandtest.Option("user", commandtest.HelperID)

	require.NoError(t, h.run(t, "ban", commandtest.ModID, user, commandtest.Option("reason", "spam")))
	assert.True(t, h.p.Bans[commandtest.HelperID])
	assert.Equal(t, "🔨 Banned", h.embed(t).Title)

	require.NoError(t, h.run(t, "ban", commandtest.ModID, user))
	assert.Contains(t, h.embed(t).Description, "already in effect")
	assert.Equal(t, 1, h.p.CallCount())
}

func TestBanUserOutsideGuild(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", "ghost")))
	assert.True(t, h.p.Bans["ghost"])
}

type memberFetch func(guildID, userID string) (*discordgo.Member, error)

func (f memberFetch) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return f(guildID, userID)
}

// uncache drops a member from state so lookups go through Fetch.
func (h *harness) uncache(t *testing.T, userID string, status int) {
	t.Helper()
	st := h.s.Snapshot.State.(*discordgo.State)
	require.NoError(t, st.MemberRemove(&discordgo.Member{GuildID: commandtest.GuildID, User: &discordgo.User{ID: userID}}))
	h.s.Snapshot.Fetch = memberFetch(func(string, string) (*discordgo.Member, error) {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	})
}

func TestBanUncachedMemberLookupFails(t *testing.T) {
	h := newHarness(t)
	h.uncache(t, commandtest.AdminID, http.StatusServiceUnavailable)

	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.AdminID)))
	assert.Zero(t, h.p.CallCount())
	assert.False(t, h.p.Bans[commandtest.AdminID])
	assert.Contains(t, h.embed(t).Description, "could not look up")
}

func TestBanUncachedNonMember(t *testing.T) {
	h := newHarness(t)
	h.uncache(t, commandtest.AdminID, http.StatusNotFound)

	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.AdminID)))
	assert.True(t, h.p.Bans[commandtest.AdminID])
}

func TestKickUncachedMemberLookupFails(t *testing.T) {
	h := newHarness(t)
	h.uncache(t, commandtest.HelperID, http.StatusBadGateway)

	require.NoError(t, h.run(t, "kick", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.Zero(t, h.p.CallCount())
	assert.Contains(t, h.embed(t).Description, "could not look up")
}

func TestBanAboveInvokerDenied(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.AdminID)))
	assert.Zero(t, h.p.CallCount())
	e := h.embed(t)
	assert.Equal(t, "verification_failed", e.Footer.Text)
	assert.Contains(t, e.Description, "role hierarchy")
}

func TestBanProtectedUser(t *testing.T) {
	h := newHarness(t)
	h.s.Config.ProtectedUsers = []string{commandtest.HelperID}
	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.Zero(t, h.p.CallCount())
	assert.Contains(t, h.embed(t).Description, "protected")
}

func TestBanPermanentFault(t *testing.T) {
	h := newHarness(t)
	h.p.Fail = enforce.ErrMissingPermission
	err := h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.HelperID))
	require.Error(t, err)
	assert.True(t, enforce.IsPermanent(err))
	assert.Equal(t, 1, h.p.CallCount())
	assert.Contains(t, h.embed(t).Description, "missing the permission")
}

func TestKickDisabledByOverride(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.s.Storage.UpsertOverride(context.Background(), override.Rule{
		CommandID:  "kick",
		GuildID:    commandtest.GuildID,
		TargetID:   commandtest.ChannelID,
		TargetType: override.TargetChannel,
		Priority:   1,
	}))
	require.NoError(t, h.s.Storage.UpsertOverride(context.Background(), override.Rule{
		CommandID:  "kick",
		GuildID:    commandtest.GuildID,
		TargetID:   "r-mod",
		TargetType: override.TargetRole,
		Enabled:    true,
		Priority:   100,
	}))

	require.NoError(t, h.run(t, "kick", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.Zero(t, h.p.CallCount())
	assert.Equal(t, "command_disabled", h.embed(t).Footer.Text)
}

func TestKick(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "kick", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.Equal(t, []string{"kick " + commandtest.HelperID}, h.p.Calls)
}

func TestKickSelfDenied(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "kick", commandtest.ModID, commandtest.Option("user", commandtest.ModID)))
	assert.Zero(t, h.p.CallCount())
	assert.Contains(t, h.embed(t).Description, "yourself")
}

func TestMuteWithTimeout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "mute", commandtest.ModID,
		commandtest.Option("user", commandtest.HelperID), commandtest.Option("duration", "2h")))
	until, ok := h.p.Muted[commandtest.HelperID]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), until, time.Minute)
	assert.Empty(t, h.s.Actions.Keys())
}

func TestMuteRejectsBadDuration(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.s.Storage.SetRole(context.Background(), commandtest.GuildID, storage.RoleMute, "r-mute"))
	for _, d := range []string{"soon", "30d", "213504d"} {
		require.NoError(t, h.run(t, "mute", commandtest.ModID,
			commandtest.Option("user", commandtest.HelperID), commandtest.Option("duration", d)))
		assert.Zero(t, h.p.CallCount())
		assert.Equal(t, discordgo.MessageFlagsEphemeral, h.sess.Responses[0].Data.Flags)
	}
}

func TestMuteRoleExpires(t *testing.T) {
	fire := manualTimer(t)
	h := newHarness(t)
	require.NoError(t, h.s.Storage.SetRole(context.Background(), commandtest.GuildID, storage.RoleMute, "r-mute"))

	require.NoError(t, h.run(t, "mute", commandtest.ModID,
		commandtest.Option("user", commandtest.HelperID), commandtest.Option("duration", "10m")))
	assert.True(t, h.p.HasRoleNow(commandtest.HelperID, "r-mute"))

	key := coordinator.ActorKey{GuildID: commandtest.GuildID, UserID: commandtest.HelperID}
	_, live := h.s.Actions.Live(key)
	assert.True(t, live)

	fire <- time.Now()
	assert.Eventually(t, func() bool {
		return !h.p.HasRoleNow(commandtest.HelperID, "r-mute")
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, live := h.s.Actions.Live(key)
		return !live
	}, time.Second, 5*time.Millisecond)
}

func TestBanSupersedesScheduledUnmute(t *testing.T) {
	manualTimer(t)
	h := newHarness(t)
	logs := &syncBuffer{}
	h.s.Logger = zerolog.New(logs).Level(zerolog.DebugLevel)
	require.NoError(t, h.s.Storage.SetRole(context.Background(), commandtest.GuildID, storage.RoleMute, "r-mute"))

	require.NoError(t, h.run(t, "mute", commandtest.ModID,
		commandtest.Option("user", commandtest.HelperID), commandtest.Option("duration", "10m")))
	key := coordinator.ActorKey{GuildID: commandtest.GuildID, UserID: commandtest.HelperID}
	pending, ok := h.s.Actions.Live(key)
	require.True(t, ok)

	require.NoError(t, h.run(t, "ban", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.ErrorIs(t, pending.Err(), coordinator.ErrSuperseded)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("Scheduled unmute dropped"))
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.p.HasRoleNow(commandtest.HelperID, "r-mute"))
}

func TestUnmuteCancelsScheduledUnmute(t *testing.T) {
	manualTimer(t)
	h := newHarness(t)
	require.NoError(t, h.s.Storage.SetRole(context.Background(), commandtest.GuildID, storage.RoleMute, "r-mute"))
	require.NoError(t, h.run(t, "mute", commandtest.ModID,
		commandtest.Option("user", commandtest.HelperID), commandtest.Option("duration", "1h")))
	key := coordinator.ActorKey{GuildID: commandtest.GuildID, UserID: commandtest.HelperID}
	pending, ok := h.s.Actions.Live(key)
	require.True(t, ok)

	require.NoError(t, h.run(t, "unmute", commandtest.ModID, commandtest.Option("user", commandtest.HelperID)))
	assert.ErrorIs(t, pending.Err(), coordinator.ErrCancelled)
	assert.False(t, h.p.HasRoleNow(commandtest.HelperID, "r-mute"))
	assert.Equal(t, "🔊 Unmuted", h.embed(t).Title)
	_, live := h.s.Actions.Live(key)
	assert.False(t, live)
}

func TestUnmuteRoleFaultKeepsEditError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.s.Storage.SetRole(context.Background(), commandtest.GuildID, storage.RoleMute, "r-mute"))
	h.p.Roles[commandtest.HelperID] = []string{"r-mute"}
	h.p.Fail = enforce.ErrMissingPermission

	editErr := errors.New("interaction token expired")
	h.sess = &commandtest.Session{EditErr: editErr}
	err := commandtest.Run(cmd.DefaultRegistry.Get("unmute"),
		commandtest.Slash(h.s, h.sess, commandtest.ModID, admin, "unmute", commandtest.Option("user", commandtest.HelperID)))

	require.Error(t, err)
	assert.True(t, enforce.IsPermanent(err))
	assert.ErrorIs(t, err, editErr)
	assert.Contains(t, h.embed(t).Description, "missing the permission")
	assert.True(t, h.p.HasRoleNow(commandtest.HelperID, "r-mute"))
}

func TestRole(t *testing.T) {
	tests := []struct {
		name    string
		sub     string
		role    string
		applied bool
		reason  string
	}{
		{name: "add below invoker", sub: "add", role: "r-helper", applied: true},
		{name: "above invoker", sub: "add", role: "r-admin", reason: "your highest role"},
		{name: "managed", sub: "add", role: "r-bot", reason: "managed by an integration"},
		{name: "everyone", sub: "remove", role: commandtest.GuildID, reason: "@everyone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.run(t, "role", commandtest.ModID, commandtest.Option(tt.sub, nil,
				commandtest.Option("user", commandtest.HelperID),
				commandtest.Option("role", tt.role),
			)))
			if tt.applied {
				assert.True(t, h.p.HasRoleNow(commandtest.HelperID, tt.role))
				return
			}
			assert.Zero(t, h.p.CallCount())
			e := h.embed(t)
			assert.Equal(t, "verification_failed", e.Footer.Text)
			assert.Contains(t, e.Description, tt.reason)
		})
	}
}

func TestRoleUnknownMember(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "role", commandtest.ModID, commandtest.Option("add", nil,
		commandtest.Option("user", "ghost"),
		commandtest.Option("role", "r-helper"),
	)))
	assert.Zero(t, h.p.CallCount())
	assert.Contains(t, h.embed(t).Description, "not a member")
}
