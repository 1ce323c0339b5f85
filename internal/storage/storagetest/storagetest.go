// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage"
)

// Run exercises a fresh backend from open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Backend) {
	t.Run("Overrides", func(t *testing.T) { testOverrides(t, open(t)) })
	t.Run("OverrideUniqueness", func(t *testing.T) { testUniqueness(t, open(t)) })
	t.Run("GuildCleanup", func(t *testing.T) { testGuildCleanup(t, open(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, open(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, open(t)) })
	t.Run("Invalid", func(t *testing.T) { testInvalid(t, open(t)) })
}

func rule(cmd, target string, tt override.TargetType, enabled bool) override.Rule {
	return override.Rule{CommandID: cmd, GuildID: "g1", TargetID: target, TargetType: tt, Enabled: enabled}
}

func testOverrides(t *testing.T, s storage.Backend) {
	ctx := context.Background()
	require.NoError(t, s.UpsertOverride(ctx, rule("ban", "r1", override.TargetRole, false)))
	require.NoError(t, s.UpsertOverride(ctx, rule("ban", "c1", override.TargetChannel, true)))
	require.NoError(t, s.UpsertOverride(ctx, rule("kick", "r1", override.TargetRole, false)))

	got, err := s.GetOverrides(ctx, "ban", "g1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetOverrides(ctx, "ban", "other")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.DeleteOverride(ctx, "ban", "r1", override.TargetRole))
	got, err = s.GetOverrides(ctx, "ban", "g1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].TargetID)

	require.NoError(t, s.DeleteOverride(ctx, "ban", "nope", override.TargetRole))

	all, err := s.ListGuildOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testUniqueness(t *testing.T, s storage.Backend) {
	ctx := context.Background()
	r := rule("ban", "r1", override.TargetRole, false)
	for i := 0; i < 3; i++ {
		r.Priority = i
		r.Enabled = i%2 == 0
		require.NoError(t, s.UpsertOverride(ctx, r))
	}

	got, err := s.GetOverrides(ctx, "ban", "g1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Priority)
	assert.True(t, got[0].Enabled)

	// Same id under a different type is a different rule.
	require.NoError(t, s.UpsertOverride(ctx, rule("ban", "r1", override.TargetUser, true)))
	got, err = s.GetOverrides(ctx, "ban", "g1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Another guild cannot take a key over; the holder's rule stays untouched.
	other := rule("ban", "r1", override.TargetUser, false)
	other.GuildID = "g2"
	other.Priority = 9
	assert.ErrorIs(t, s.UpsertOverride(ctx, other), override.ErrOtherGuild)
	got, err = s.GetOverrides(ctx, "ban", "g1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "g1", r.GuildID)
		if r.TargetType == override.TargetUser {
			assert.True(t, r.Enabled)
			assert.Zero(t, r.Priority)
		}
	}
	got, err = s.GetOverrides(ctx, "ban", "g2")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Once the holder removes it, the key is free.
	require.NoError(t, s.DeleteOverride(ctx, "ban", "r1", override.TargetUser))
	require.NoError(t, s.UpsertOverride(ctx, other))
	got, err = s.GetOverrides(ctx, "ban", "g2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func testGuildCleanup(t *testing.T, s storage.Backend) {
	ctx := context.Background()
	require.NoError(t, s.UpsertOverride(ctx, rule("ban", "r1", override.TargetRole, false)))
	require.NoError(t, s.SetRole(ctx, "g1", storage.RoleMute, "m1"))

	require.NoError(t, s.DeleteGuildOverrides(ctx, "g1"))
	got, err := s.ListGuildOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, got)
	role, err := s.Role(ctx, "g1", storage.RoleMute)
	require.NoError(t, err)
	assert.Equal(t, "m1", role)

	require.NoError(t, s.DeleteGuild(ctx, "g1"))
	_, err = s.Role(ctx, "g1", storage.RoleMute)
	assert.ErrorIs(t, err, storage.ErrRoleNotSet)
}

func testHistory(t *testing.T, s storage.Backend) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendCommandHistory(ctx, "g1", storage.CommandHistoryRecord{
			UserID:   "u1",
			Command:  fmt.Sprintf("cmd%d", i),
			Datetime: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	hist, err := s.CommandHistory(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, hist, 20)
	assert.Equal(t, "cmd5", hist[0].Command)
	assert.Equal(t, "cmd24", hist[19].Command)
	assert.True(t, hist[19].Datetime.Equal(base.Add(24*time.Minute)))
}

func testRoles(t *testing.T, s storage.Backend) {
	ctx := context.Background()
	_, err := s.Role(ctx, "g1", storage.RoleMute)
	assert.ErrorIs(t, err, storage.ErrRoleNotSet)

	require.NoError(t, s.SetRole(ctx, "g1", storage.RoleMute, "m1"))
	require.NoError(t, s.SetRole(ctx, "g1", storage.RoleMute, "m2"))
	role, err := s.Role(ctx, "g1", storage.RoleMute)
	require.NoError(t, err)
	assert.Equal(t, "m2", role)

	require.NoError(t, s.SetRole(ctx, "g1", storage.RoleMute, ""))
	_, err = s.Role(ctx, "g1", storage.RoleMute)
	assert.ErrorIs(t, err, storage.ErrRoleNotSet)
}

func testInvalid(t *testing.T, s storage.Backend) {
	err := s.UpsertOverride(context.Background(), override.Rule{CommandID: "ban", GuildID: "g1"})
	assert.Error(t, err)
}
