// Package enforce applies moderation actions through the chat platform with idempotent
// re-apply semantics and a bounded retry budget for transient faults.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the type of enforcement.
type Kind int

const (
	KindBan Kind = iota + 1
	KindUnban
	KindKick
	KindMute
	KindUnmute
	KindAddRole
	KindRemoveRole
)

var kindNames = map[Kind]string{
	KindBan:        "ban",
	KindUnban:      "unban",
	KindKick:       "kick",
	KindMute:       "mute",
	KindUnmute:     "unmute",
	KindAddRole:    "add_role",
	KindRemoveRole: "remove_role",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MaxMute is the longest timeout the platform accepts.
const MaxMute = 28 * 24 * time.Hour

// ErrInvalidAction is returned for actions missing required fields.
var ErrInvalidAction = errors.New("enforce: invalid action")

// Action describes one enforcement against a member.
type Action struct {
	Kind    Kind
	GuildID string
	UserID  string

	// RoleID is required for KindAddRole and KindRemoveRole.
	RoleID string

	// Duration is required for KindMute.
	Duration time.Duration

	// DeleteMessageDays applies to KindBan, 0..7.
	DeleteMessageDays int
}

func (a Action) Validate() error {
	if _, ok := kindNames[a.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidAction, int(a.Kind))
	}
	if a.GuildID == "" || a.UserID == "" {
		return fmt.Errorf("%w: guild and user are required", ErrInvalidAction)
	}
	switch a.Kind {
	case KindAddRole, KindRemoveRole:
		if a.RoleID == "" {
			return fmt.Errorf("%w: %s needs a role", ErrInvalidAction, a.Kind)
		}
	case KindMute:
		if a.Duration <= 0 || a.Duration > MaxMute {
			return fmt.Errorf("%w: mute duration must be within (0, %s]", ErrInvalidAction, MaxMute)
		}
	case KindBan:
		if a.DeleteMessageDays < 0 || a.DeleteMessageDays > 7 {
			return fmt.Errorf("%w: delete message days must be 0..7", ErrInvalidAction)
		}
	}
	return nil
}

// Options carries per-call settings.
type Options struct {
	// Reason is written to the platform audit log.
	Reason string

	// Retries is the number of extra attempts for transient faults. Negative uses the
	// executor default.
	Retries int
}

// DefaultOptions uses the executor's retry budget.
func DefaultOptions(reason string) Options {
	return Options{Reason: reason, Retries: -1}
}

// Outcome is the successful result of Apply.
type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeAlreadyApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	default:
		return "unknown"
	}
}

// Platform is the chat platform's enforcement surface. Implementations report failures
// wrapped with the sentinels in this package so the executor can classify them.
type Platform interface {
	Ban(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	// SetMute times the member out until the given instant; a zero time lifts the timeout.
	SetMute(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

// Prober reads current member state so already-applied actions skip the platform call.
// Platforms that implement it get the check for free.
type Prober interface {
	IsBanned(ctx context.Context, guildID, userID string) (bool, error)
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	IsMuted(ctx context.Context, guildID, userID string) (bool, error)
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}
