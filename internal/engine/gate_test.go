package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/warden/internal/guild"
	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/verify"
)

type failingStore struct{ override.Store }

func (failingStore) GetOverrides(context.Context, string, string) ([]override.Rule, error) {
	return nil, errors.New("disk on fire")
}

var (
	roleDef = Definition{
		CommandID:      "role",
		Checks:         verify.Checks(verify.CheckIsRole, verify.CheckNotManaged, verify.CheckBelowInvoker, verify.CheckBelowBot),
		DefaultEnabled: true,
	}
	gctx = guild.Context{
		GuildID:        "g1",
		ChannelID:      "c1",
		InvokerID:      "u1",
		RoleIDs:        []string{"r-mod"},
		TopPosition:    5,
		OwnerID:        "owner",
		BotTopPosition: 10,
	}
)

func TestAuthorizeAllows(t *testing.T) {
	gate := NewGate(override.NewMemStore())
	d, err := gate.Authorize(context.Background(), Request{
		Definition:   roleDef,
		GuildContext: gctx,
		Target:       &verify.Role{RoleID: "r2", Position: 3},
	})
	require.NoError(t, err)
	assert.True(t, d.Proceed)
	assert.Nil(t, d.Denial)
	assert.True(t, d.Verdict.Enabled)
}

func TestAuthorizeVerificationFailure(t *testing.T) {
	store := override.NewMemStore()
	m := metrics.New(nil)
	gate := NewGate(store, WithMetrics(m))

	d, err := gate.Authorize(context.Background(), Request{
		Definition:   roleDef,
		GuildContext: gctx,
		Target:       &verify.Role{RoleID: "r2", Position: 8},
	})
	require.NoError(t, err)
	assert.False(t, d.Proceed)
	require.NotNil(t, d.Denial)
	assert.Equal(t, VerificationFailed, d.Denial.Category)
	assert.Equal(t, verify.CheckBelowInvoker, d.Denial.Check)
	assert.Contains(t, d.Denial.Reason, "hierarchy")
	assert.Contains(t, d.Denial.Error(), "verification_failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("role", "verification_failed")))
}

func TestAuthorizeVerificationRunsBeforeOverrides(t *testing.T) {
	store := override.NewMemStore()
	require.NoError(t, store.UpsertOverride(context.Background(), override.Rule{
		CommandID: "role", GuildID: "g1", TargetID: "g1", TargetType: override.TargetGuild, Enabled: false,
	}))
	gate := NewGate(store)

	d, err := gate.Authorize(context.Background(), Request{
		Definition:   roleDef,
		GuildContext: gctx,
		Target:       &verify.Role{RoleID: "r2", Position: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, VerificationFailed, d.Denial.Category)
}

func TestAuthorizeOverrideDisables(t *testing.T) {
	ctx := context.Background()
	store := override.NewMemStore()
	gate := NewGate(store)
	req := Request{Definition: roleDef, GuildContext: gctx, Target: &verify.Role{RoleID: "r2", Position: 1}}

	d, err := gate.Authorize(ctx, req)
	require.NoError(t, err)
	require.True(t, d.Proceed)

	require.NoError(t, store.UpsertOverride(ctx, override.Rule{
		CommandID: "role", GuildID: "g1", TargetID: "c1", TargetType: override.TargetChannel, Enabled: false,
	}))

	d, err = gate.Authorize(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Proceed)
	assert.Equal(t, CommandDisabled, d.Denial.Category)
	require.NotNil(t, d.Verdict.MatchedRule)
	assert.Equal(t, "c1", d.Verdict.MatchedRule.TargetID)
	assert.Contains(t, d.Denial.Reason, "channel")
}

func TestAuthorizeDefaultDisabled(t *testing.T) {
	gate := NewGate(override.NewMemStore())
	d, err := gate.Authorize(context.Background(), Request{
		Definition:   Definition{CommandID: "purge", DefaultEnabled: false},
		GuildContext: gctx,
	})
	require.NoError(t, err)
	assert.False(t, d.Proceed)
	assert.Equal(t, CommandDisabled, d.Denial.Category)
	assert.Nil(t, d.Verdict.MatchedRule)
}

func TestAuthorizeOptionalTargetSkipsVerification(t *testing.T) {
	def := roleDef
	def.OptionalTarget = true
	gate := NewGate(override.NewMemStore())
	d, err := gate.Authorize(context.Background(), Request{Definition: def, GuildContext: gctx})
	require.NoError(t, err)
	assert.True(t, d.Proceed)
}

func TestAuthorizeMissingTarget(t *testing.T) {
	m := metrics.New(nil)
	gate := NewGate(override.NewMemStore(), WithMetrics(m))
	_, err := gate.Authorize(context.Background(), Request{Definition: roleDef, GuildContext: gctx})
	assert.ErrorIs(t, err, verify.ErrInvalidTarget)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("role", "error")))

	d, err := gate.Authorize(context.Background(), Request{
		Definition:   Definition{CommandID: "status", DefaultEnabled: true},
		GuildContext: gctx,
	})
	require.NoError(t, err)
	assert.True(t, d.Proceed)
}

func TestAuthorizeErrors(t *testing.T) {
	_, err := NewGate(override.NewMemStore()).Authorize(context.Background(), Request{
		Definition:   roleDef,
		GuildContext: gctx,
		Target:       (*verify.Role)(nil),
	})
	assert.ErrorIs(t, err, verify.ErrInvalidTarget)

	_, err = NewGate(failingStore{}).Authorize(context.Background(), Request{
		Definition:   roleDef,
		GuildContext: gctx,
		Target:       &verify.Role{RoleID: "r2", Position: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
