// Package override computes whether a command is enabled for the scope it was invoked in,
// from moderator-defined rules attached to the guild, a role, a channel or a user.
package override

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrOtherGuild is returned by UpsertOverride when the rule's key is already held by a
// rule of another guild. Stores never move a key between guilds.
var ErrOtherGuild = errors.New("override: key is held by another guild")

// TargetType is the kind of entity a rule is attached to.
type TargetType int

const (
	TargetGuild TargetType = iota + 1
	TargetRole
	TargetChannel
	TargetUser
)

var targetTypeNames = map[TargetType]string{
	TargetGuild:   "guild",
	TargetRole:    "role",
	TargetChannel: "channel",
	TargetUser:    "user",
}

func (t TargetType) String() string {
	if n, ok := targetTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TargetType(%d)", int(t))
}

// ParseTargetType parses the lowercase name of a target type.
func ParseTargetType(s string) (TargetType, error) {
	for t, n := range targetTypeNames {
		if strings.EqualFold(n, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown override target type %q", s)
}

// specificity ranks target types: a higher value always wins over a lower one, whatever
// the stored priority.
func (t TargetType) specificity() int {
	switch t {
	case TargetUser:
		return 4
	case TargetChannel:
		return 3
	case TargetRole:
		return 2
	case TargetGuild:
		return 1
	default:
		return 0
	}
}

// Rule enables or disables one command for one guild-scoped entity. At most one rule exists
// per (CommandID, TargetID, TargetType); stores enforce that.
type Rule struct {
	CommandID  string     `json:"command_id"`
	GuildID    string     `json:"guild_id"`
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Enabled    bool       `json:"enabled"`
	Priority   int        `json:"priority"`
}

// Key identifies a rule for uniqueness purposes.
type Key struct {
	CommandID  string
	TargetID   string
	TargetType TargetType
}

func (r Rule) Key() Key {
	return Key{CommandID: r.CommandID, TargetID: r.TargetID, TargetType: r.TargetType}
}

// Validate reports structural problems with a rule before it is stored.
func (r Rule) Validate() error {
	switch {
	case r.CommandID == "":
		return fmt.Errorf("override: command id is empty")
	case r.GuildID == "":
		return fmt.Errorf("override: guild id is empty")
	case r.TargetID == "":
		return fmt.Errorf("override: target id is empty")
	case r.TargetType.specificity() == 0:
		return fmt.Errorf("override: invalid target type %d", int(r.TargetType))
	}
	return nil
}

// Store is the persistence collaborator for override rules.
type Store interface {
	GetOverrides(ctx context.Context, commandID, guildID string) ([]Rule, error)
	UpsertOverride(ctx context.Context, rule Rule) error
	DeleteOverride(ctx context.Context, commandID, targetID string, targetType TargetType) error
}

// GuildLister is implemented by stores that can enumerate and purge a guild's rules.
type GuildLister interface {
	ListGuildOverrides(ctx context.Context, guildID string) ([]Rule, error)
	DeleteGuildOverrides(ctx context.Context, guildID string) error
}
