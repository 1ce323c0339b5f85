package settings

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/command/commandtest"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/pkg/cmd"
)

type stub struct{ name string }

func (s *stub) Name() string                                               { return s.name }
func (s *stub) Description() string                                        { return "stub" }
func (s *stub) Category() string                                           { return "" }
func (s *stub) UserPermissions() []int64                                   { return nil }
func (s *stub) Run(context.Context, *command.SlashInteractionContext) error { return nil }

type harness struct {
	s    *command.Services
	sess *commandtest.Session
}

func newHarness(t *testing.T) *harness {
	s := commandtest.Services(t, commandtest.NewPlatform())
	s.Registry.MustRegister(&command.DiscordAdapter{Cmd: &stub{name: "kick"}})
	s.Registry.MustRegister(&command.DiscordAdapter{Cmd: &OverrideCommand{}})
	return &harness{s: s}
}

func (h *harness) run(t *testing.T, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) error {
	t.Helper()
	c := cmd.DefaultRegistry.Get(name)
	require.NotNil(t, c)
	h.sess = &commandtest.Session{}
	return commandtest.Run(c, commandtest.Slash(h.s, h.sess, commandtest.ModID, discordgo.PermissionManageGuild|discordgo.PermissionManageRoles, name, opts...))
}

func (h *harness) rules(t *testing.T) []override.Rule {
	t.Helper()
	rules, err := h.s.Storage.ListGuildOverrides(context.Background(), commandtest.GuildID)
	require.NoError(t, err)
	return rules
}

func TestOverrideSetScopes(t *testing.T) {
	tests := []struct {
		name   string
		scope  []*discordgo.ApplicationCommandInteractionDataOption
		target string
		typ    override.TargetType
	}{
		{"guild", nil, commandtest.GuildID, override.TargetGuild},
		{"role", []*discordgo.ApplicationCommandInteractionDataOption{commandtest.Option("role", "r-mod")}, "r-mod", override.TargetRole},
		{"channel", []*discordgo.ApplicationCommandInteractionDataOption{commandtest.Option("channel", commandtest.ChannelID)}, commandtest.ChannelID, override.TargetChannel},
		{"user", []*discordgo.ApplicationCommandInteractionDataOption{commandtest.Option("user", commandtest.HelperID)}, commandtest.HelperID, override.TargetUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			opts := append([]*discordgo.ApplicationCommandInteractionDataOption{
				commandtest.Option("command", "/Kick"),
				commandtest.Option("enabled", false),
				commandtest.Option("priority", float64(3)),
			}, tt.scope...)
			require.NoError(t, h.run(t, "override", commandtest.Option("set", nil, opts...)))

			assert.Equal(t, []override.Rule{{
				CommandID:  "kick",
				GuildID:    commandtest.GuildID,
				TargetID:   tt.target,
				TargetType: tt.typ,
				Priority:   3,
			}}, h.rules(t))
			assert.Equal(t, "Override saved", h.sess.LastEmbed().Title)
		})
	}
}

func TestOverrideSetRejects(t *testing.T) {
	tests := []struct {
		name string
		opts []*discordgo.ApplicationCommandInteractionDataOption
		msg  string
	}{
		{"unknown command", []*discordgo.ApplicationCommandInteractionDataOption{
			commandtest.Option("command", "nope"), commandtest.Option("enabled", true),
		}, "unknown command"},
		{"exempt command", []*discordgo.ApplicationCommandInteractionDataOption{
			commandtest.Option("command", "override"), commandtest.Option("enabled", false),
		}, "cannot be overridden"},
		{"two scopes", []*discordgo.ApplicationCommandInteractionDataOption{
			commandtest.Option("command", "kick"), commandtest.Option("enabled", false),
			commandtest.Option("role", "r-mod"), commandtest.Option("user", commandtest.HelperID),
		}, "at most one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.run(t, "override", commandtest.Option("set", nil, tt.opts...)))
			assert.Empty(t, h.rules(t))
			assert.Contains(t, h.sess.LastEmbed().Description, tt.msg)
		})
	}
}

func TestOverrideUpdateKeepsOneRule(t *testing.T) {
	h := newHarness(t)
	for _, enabled := range []bool{false, true} {
		require.NoError(t, h.run(t, "override", commandtest.Option("set", nil,
			commandtest.Option("command", "kick"),
			commandtest.Option("enabled", enabled),
			commandtest.Option("channel", commandtest.ChannelID),
		)))
	}
	rules := h.rules(t)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Enabled)
}

func TestOverrideSetKeyHeldByOtherGuild(t *testing.T) {
	h := newHarness(t)
	held := override.Rule{CommandID: "kick", GuildID: "g2", TargetID: commandtest.HelperID, TargetType: override.TargetUser, Enabled: true}
	require.NoError(t, h.s.Storage.UpsertOverride(context.Background(), held))

	require.NoError(t, h.run(t, "override", commandtest.Option("set", nil,
		commandtest.Option("command", "kick"),
		commandtest.Option("enabled", false),
		commandtest.Option("user", commandtest.HelperID),
	)))
	assert.Contains(t, h.sess.LastEmbed().Description, "another server")
	assert.Empty(t, h.rules(t))

	other, err := h.s.Storage.ListGuildOverrides(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, []override.Rule{held}, other)
}

func TestOverrideRemoveAndList(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "override", commandtest.Option("set", nil,
		commandtest.Option("command", "kick"),
		commandtest.Option("enabled", false),
		commandtest.Option("role", "r-helper"),
	)))

	require.NoError(t, h.run(t, "override", commandtest.Option("list", nil)))
	assert.Contains(t, h.sess.LastEmbed().Description, "`/kick` disabled for <@&r-helper>")

	require.NoError(t, h.run(t, "override", commandtest.Option("remove", nil,
		commandtest.Option("command", "kick"),
		commandtest.Option("channel", commandtest.ChannelID),
	)))
	assert.Contains(t, h.sess.LastEmbed().Description, "no such override")
	assert.Len(t, h.rules(t), 1)

	require.NoError(t, h.run(t, "override", commandtest.Option("remove", nil,
		commandtest.Option("command", "kick"),
		commandtest.Option("role", "r-helper"),
	)))
	assert.Empty(t, h.rules(t))

	require.NoError(t, h.run(t, "override", commandtest.Option("list", nil)))
	assert.Contains(t, h.sess.LastEmbed().Description, "No overrides")
}

func TestOverrideIgnoresOwnOverrides(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.s.Storage.UpsertOverride(context.Background(), override.Rule{
		CommandID: "override", GuildID: commandtest.GuildID, TargetID: commandtest.GuildID, TargetType: override.TargetGuild,
	}))
	require.NoError(t, h.run(t, "override", commandtest.Option("list", nil)))
	assert.NotEqual(t, "command_disabled", footer(h.sess.LastEmbed()))
}

func TestMuteRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.run(t, "mute-role", commandtest.Option("show", nil)))
	assert.Contains(t, h.sess.LastEmbed().Description, "No mute role")

	require.NoError(t, h.run(t, "mute-role", commandtest.Option("set", nil, commandtest.Option("role", "r-mute"))))
	id, err := h.s.Storage.Role(ctx, commandtest.GuildID, storage.RoleMute)
	require.NoError(t, err)
	assert.Equal(t, "r-mute", id)

	require.NoError(t, h.run(t, "mute-role", commandtest.Option("clear", nil)))
	_, err = h.s.Storage.Role(ctx, commandtest.GuildID, storage.RoleMute)
	assert.ErrorIs(t, err, storage.ErrRoleNotSet)
}

func TestMuteRoleRejectsUnassignableRole(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "mute-role", commandtest.Option("set", nil, commandtest.Option("role", "r-bot"))))
	assert.Equal(t, "verification_failed", footer(h.sess.LastEmbed()))
	_, err := h.s.Storage.Role(context.Background(), commandtest.GuildID, storage.RoleMute)
	assert.ErrorIs(t, err, storage.ErrRoleNotSet)
}

func footer(e *discordgo.MessageEmbed) string {
	if e == nil || e.Footer == nil {
		return ""
	}
	return e.Footer.Text
}
