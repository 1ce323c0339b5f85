package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage/sqlite"
)

func newCLI(t *testing.T) (*cliContext, *bytes.Buffer) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	out := &bytes.Buffer{}
	return &cliContext{Store: store, Out: out}, out
}

func TestSetListRemove(t *testing.T) {
	ctx := context.Background()
	cc, out := newCLI(t)
	stderr := &bytes.Buffer{}

	require.Equal(t, 0, run(ctx, []string{"set", "g1", "Kick", "role", "r1", "off", "5"}, cc, stderr), stderr.String())
	rules, err := cc.Store.ListGuildOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []override.Rule{{CommandID: "kick", GuildID: "g1", TargetID: "r1", TargetType: override.TargetRole, Priority: 5}}, rules)

	out.Reset()
	require.Equal(t, 0, run(ctx, []string{"overrides", "g1"}, cc, stderr))
	assert.Contains(t, out.String(), "kick")
	assert.Contains(t, out.String(), "role")

	require.Equal(t, 0, run(ctx, []string{"remove", "g1", "kick", "role", "r1"}, cc, stderr))
	rules, err = cc.Store.ListGuildOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestGuildsDoNotShareKeys(t *testing.T) {
	ctx := context.Background()
	cc, _ := newCLI(t)
	stderr := &bytes.Buffer{}

	require.Equal(t, 0, run(ctx, []string{"set", "g1", "kick", "user", "u1", "off"}, cc, stderr))
	assert.Equal(t, 1, run(ctx, []string{"set", "g2", "kick", "user", "u1", "on"}, cc, stderr))
	assert.Equal(t, 1, run(ctx, []string{"remove", "g2", "kick", "user", "u1"}, cc, stderr))
	assert.Contains(t, stderr.String(), "has no override")

	rules, err := cc.Store.ListGuildOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	cc, _ := newCLI(t)

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"no command", nil, 2, "usage"},
		{"unknown", []string{"nope"}, 2, "unknown command"},
		{"missing args", []string{"set", "g1"}, 1, "expected at least 5"},
		{"bad type", []string{"set", "g1", "kick", "team", "x", "on"}, 1, "unknown override target type"},
		{"bad switch", []string{"set", "g1", "kick", "user", "x", "maybe"}, 1, "expected on or off"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stderr := &bytes.Buffer{}
			assert.Equal(t, tt.code, run(ctx, tt.args, cc, stderr))
			assert.Contains(t, stderr.String(), tt.msg)
		})
	}
}
