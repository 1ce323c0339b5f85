// Package coordinator hands out per-actor tickets for exclusive operations such as a timed
// mute. Taking a new ticket for an actor cancels the previous one, so an actor never has two
// conflicting operations live at once.
//
// Typical usage:
//
//	h := holder.Acquire(coordinator.ActorKey{GuildID: g, UserID: u})
//	defer holder.Release(key, h)
//
//	select {
//	case <-time.After(d):
//	    // safe point: check before acting
//	    if h.Cancelled() {
//	        return
//	    }
//	    unmute()
//	case <-h.Done():
//	}
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSuperseded is the cancellation cause when a newer ticket replaced this one.
	ErrSuperseded = errors.New("coordinator: superseded by a newer action")
	// ErrCancelled is the cancellation cause for an explicit Cancel.
	ErrCancelled = errors.New("coordinator: action cancelled")
)

// ActorKey is the usual key: one actor inside one guild.
type ActorKey struct {
	GuildID string
	UserID  string
}

func (k ActorKey) String() string { return k.GuildID + "/" + k.UserID }

// Handle is the cancellation side of a ticket. Cancellation is advisory: the holder checks
// it at its own safe points.
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newHandle() *Handle {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Handle{id: uuid.NewString(), ctx: ctx, cancel: cancel}
}

// ID is the ticket id, unique per Acquire.
func (h *Handle) ID() string { return h.id }

// Context is cancelled when the ticket is superseded or cancelled.
func (h *Handle) Context() context.Context { return h.ctx }

// Done is closed once the ticket is no longer live.
func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

// Cancelled reports whether the ticket has been superseded or cancelled.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }

// Err returns ErrSuperseded or ErrCancelled once the ticket is dead, nil before.
func (h *Handle) Err() error {
	if h.ctx.Err() == nil {
		return nil
	}
	return context.Cause(h.ctx)
}

// Holder maps keys to their single live handle. The zero value is not usable; call New.
// Operations on different keys never wait on each other.
type Holder[K comparable] struct {
	live sync.Map // K -> *Handle

	// OnSupersede, if set, is called after a live handle has been replaced.
	OnSupersede func(key K, old *Handle)
}

// New returns an empty Holder.
func New[K comparable]() *Holder[K] {
	return &Holder[K]{}
}

// Acquire makes a fresh handle the live one for key and cancels whatever was live before.
// The swap is a single atomic step per key: of two concurrent callers exactly one receives
// the other's handle and cancels it, so no superseded handle is left uncancelled.
func (h *Holder[K]) Acquire(key K) *Handle {
	next := newHandle()
	if prev, loaded := h.live.Swap(key, next); loaded {
		old := prev.(*Handle)
		old.cancel(ErrSuperseded)
		if h.OnSupersede != nil {
			h.OnSupersede(key, old)
		}
	}
	return next
}

// Release drops handle from key if it is still the live one. A holder calls it when its own
// work finishes; it never affects a newer ticket.
func (h *Holder[K]) Release(key K, handle *Handle) bool {
	if handle == nil {
		return false
	}
	return h.live.CompareAndDelete(key, handle)
}

// Cancel cancels and removes the live handle for key. It reports whether one existed.
func (h *Holder[K]) Cancel(key K) bool {
	prev, ok := h.live.LoadAndDelete(key)
	if !ok {
		return false
	}
	prev.(*Handle).cancel(ErrCancelled)
	return true
}

// Live returns the live handle for key, if any.
func (h *Holder[K]) Live(key K) (*Handle, bool) {
	v, ok := h.live.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Go acquires a ticket for key and runs fn with its context in a new goroutine. The ticket
// is released when fn returns. Errors other than the ticket's own cancellation go to onErr.
func (h *Holder[K]) Go(key K, fn func(ctx context.Context) error, onErr func(error)) *Handle {
	handle := h.Acquire(key)
	go func() {
		defer h.Release(key, handle)
		err := fn(handle.Context())
		if err != nil && onErr != nil && !isCancellation(err) {
			onErr(err)
		}
	}()
	return handle
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrSuperseded) || errors.Is(err, ErrCancelled)
}

// Keys returns the keys that currently have a live handle.
func (h *Holder[K]) Keys() []K {
	var out []K
	h.live.Range(func(k, v any) bool {
		if !v.(*Handle).Cancelled() {
			out = append(out, k.(K))
		}
		return true
	})
	return out
}

// Status returns a human-readable summary of live tickets.
func (h *Holder[K]) Status() string {
	keys := h.Keys()
	if len(keys) == 0 {
		return "No pending actions."
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = fmt.Sprint(k)
	}
	sort.Strings(names)
	return fmt.Sprintf("Pending actions: %s", strings.Join(names, ", "))
}
