package enforce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform keeps ban and role state in memory. Hooks override individual calls.
type fakePlatform struct {
	mu     sync.Mutex
	bans   map[string]bool
	roles  map[string]bool
	muted  map[string]time.Time
	calls  map[Kind]int
	banErr func(attempt int) error
}

func newFake() *fakePlatform {
	return &fakePlatform{
		bans:  map[string]bool{},
		roles: map[string]bool{},
		muted: map[string]time.Time{},
		calls: map[Kind]int{},
	}
}

func (f *fakePlatform) count(k Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k]
}

func (f *fakePlatform) Ban(_ context.Context, g, u string, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindBan]++
	if f.banErr != nil {
		if err := f.banErr(f.calls[KindBan]); err != nil {
			return err
		}
	}
	if f.bans[g+u] {
		return fmt.Errorf("%w: user is banned", ErrAlreadyApplied)
	}
	f.bans[g+u] = true
	return nil
}

func (f *fakePlatform) Unban(_ context.Context, g, u, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindUnban]++
	delete(f.bans, g+u)
	return nil
}

func (f *fakePlatform) Kick(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindKick]++
	return ErrTargetGone
}

func (f *fakePlatform) SetMute(_ context.Context, g, u string, until time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindMute]++
	f.muted[g+u] = until
	return nil
}

func (f *fakePlatform) AddRole(_ context.Context, g, u, r, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindAddRole]++
	f.roles[g+u+r] = true
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, g, u, r, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KindRemoveRole]++
	delete(f.roles, g+u+r)
	return nil
}

// probingPlatform adds state probes on top of fakePlatform.
type probingPlatform struct{ *fakePlatform }

func (p probingPlatform) IsBanned(_ context.Context, g, u string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bans[g+u], nil
}

func (p probingPlatform) IsMember(context.Context, string, string) (bool, error) { return true, nil }

func (p probingPlatform) IsMuted(_ context.Context, g, u string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.muted[g+u].IsZero(), nil
}

func (p probingPlatform) HasRole(_ context.Context, g, u, r string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roles[g+u+r], nil
}

func fast(p Platform, opts ...Option) *Executor {
	return NewExecutor(p, append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond), WithRetries(2)}, opts...)...)
}

var ban = Action{Kind: KindBan, GuildID: "g", UserID: "u"}

func TestApplyBanTwiceIsIdempotent(t *testing.T) {
	f := newFake()
	exec := fast(f)
	ctx := context.Background()

	out, err := exec.Apply(ctx, ban, DefaultOptions("spam"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = exec.Apply(ctx, ban, DefaultOptions("spam"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, out)
	assert.Equal(t, 2, f.count(KindBan))
}

func TestApplyProbeSkipsPlatformCall(t *testing.T) {
	f := newFake()
	exec := fast(probingPlatform{f})
	ctx := context.Background()

	_, err := exec.Apply(ctx, ban, DefaultOptions(""))
	require.NoError(t, err)
	out, err := exec.Apply(ctx, ban, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, out)
	assert.Equal(t, 1, f.count(KindBan))

	out, err = exec.Apply(ctx, Action{Kind: KindRemoveRole, GuildID: "g", UserID: "u", RoleID: "r"}, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, out)
	assert.Zero(t, f.count(KindRemoveRole))

	out, err = exec.Apply(ctx, Action{Kind: KindUnmute, GuildID: "g", UserID: "u"}, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, out)
}

func TestApplyRetriesTransient(t *testing.T) {
	f := newFake()
	f.banErr = func(attempt int) error {
		if attempt < 3 {
			return fmt.Errorf("%w: 502 bad gateway", ErrTransient)
		}
		return nil
	}

	out, err := fast(f).Apply(context.Background(), ban, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, 3, f.count(KindBan))
}

func TestApplyTransientExhaustsBudget(t *testing.T) {
	f := newFake()
	f.banErr = func(int) error { return fmt.Errorf("%w: 503", ErrTransient) }

	_, err := fast(f).Apply(context.Background(), ban, Options{Retries: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrTransient)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 2, fault.Attempts)
	assert.Equal(t, 2, f.count(KindBan))
}

func TestApplyRateLimitedIsRetried(t *testing.T) {
	f := newFake()
	f.banErr = func(attempt int) error {
		if attempt == 1 {
			return ErrRateLimited
		}
		return nil
	}
	out, err := fast(f).Apply(context.Background(), ban, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestApplyPermanentNotRetried(t *testing.T) {
	f := newFake()
	_, err := fast(f).Apply(context.Background(), Action{Kind: KindKick, GuildID: "g", UserID: "u"}, DefaultOptions(""))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrTargetGone)
	assert.Equal(t, 1, f.count(KindKick))
}

func TestApplyUnknownErrorIsPermanent(t *testing.T) {
	f := newFake()
	f.banErr = func(int) error { return errors.New("weird") }
	_, err := fast(f).Apply(context.Background(), ban, DefaultOptions(""))
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, f.count(KindBan))
}

func TestApplyInvalidAction(t *testing.T) {
	exec := fast(newFake())
	tests := []Action{
		{Kind: KindBan, GuildID: "g"},
		{Kind: KindAddRole, GuildID: "g", UserID: "u"},
		{Kind: KindMute, GuildID: "g", UserID: "u"},
		{Kind: KindMute, GuildID: "g", UserID: "u", Duration: MaxMute + time.Hour},
		{Kind: KindBan, GuildID: "g", UserID: "u", DeleteMessageDays: 8},
		{Kind: Kind(99), GuildID: "g", UserID: "u"},
	}
	for _, a := range tests {
		_, err := exec.Apply(context.Background(), a, DefaultOptions(""))
		assert.ErrorIs(t, err, ErrInvalidAction, "%+v", a)
	}
}

func TestApplyMuteSetsDeadline(t *testing.T) {
	f := newFake()
	exec := fast(f)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exec.now = func() time.Time { return now }

	_, err := exec.Apply(context.Background(), Action{Kind: KindMute, GuildID: "g", UserID: "u", Duration: time.Hour}, DefaultOptions(""))
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), f.muted["gu"])

	_, err = exec.Apply(context.Background(), Action{Kind: KindUnmute, GuildID: "g", UserID: "u"}, DefaultOptions(""))
	require.NoError(t, err)
	assert.True(t, f.muted["gu"].IsZero())
}

func TestApplyOpenBreakerFailsFast(t *testing.T) {
	f := newFake()
	f.banErr = func(int) error { return ErrTransient }

	settings := BreakerSettings("test")
	settings.Timeout = time.Hour
	settings.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	exec := fast(f, WithBreaker(gobreaker.NewCircuitBreaker(settings)))

	_, err := exec.Apply(context.Background(), ban, Options{Retries: 0})
	require.True(t, IsTransient(err))
	require.Equal(t, 1, f.count(KindBan))

	_, err = exec.Apply(context.Background(), ban, Options{Retries: 1})
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 1, f.count(KindBan))
}

func TestApplyPermanentDoesNotTripBreaker(t *testing.T) {
	f := newFake()
	settings := BreakerSettings("test")
	settings.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	exec := fast(f, WithBreaker(gobreaker.NewCircuitBreaker(settings)))

	kick := Action{Kind: KindKick, GuildID: "g", UserID: "u"}
	for i := 0; i < 3; i++ {
		_, err := exec.Apply(context.Background(), kick, DefaultOptions(""))
		assert.True(t, IsPermanent(err))
	}
	assert.Equal(t, 3, f.count(KindKick))
}

func TestApplyCancelledContext(t *testing.T) {
	f := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fast(f).Apply(ctx, ban, DefaultOptions(""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsTransient(err))
}
