// /internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/datastore"
	"github.com/keshon/warden/internal/override"
)

const commandHistoryLimit int = 20

// RoleMute is the role applied by the mute command when timeouts are not used.
const RoleMute = "mute"

var ErrRoleNotSet = errors.New("role not set for this guild")

type CommandHistoryRecord struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	GuildName   string    `json:"guild_name"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Command     string    `json:"command"`
	Param       string    `json:"param"`
	Datetime    time.Time `json:"datetime"`
}

// Backend is what the bot needs from persistence. Storage and sqlite.Store implement it.
type Backend interface {
	override.Store
	override.GuildLister

	AppendCommandHistory(ctx context.Context, guildID string, rec CommandHistoryRecord) error
	CommandHistory(ctx context.Context, guildID string) ([]CommandHistoryRecord, error)
	SetRole(ctx context.Context, guildID, roleType, roleID string) error
	Role(ctx context.Context, guildID, roleType string) (string, error)
	DeleteGuild(ctx context.Context, guildID string) error
	Close() error
}

type Record struct {
	Overrides           []override.Rule        `json:"overrides"`
	CommandsHistoryList []CommandHistoryRecord `json:"cmd_history"`
	Roles               map[string]string      `json:"roles"` // e.g., "mute": "roleID"
}

// Storage keeps one Record per guild in a JSON datastore.
type Storage struct {
	mu sync.Mutex
	ds *datastore.DataStore
}

var _ Backend = (*Storage)(nil)

func New(filePath string, logger zerolog.Logger) (*Storage, error) {
	cfg := datastore.DefaultConfig(filePath)
	cfg.Logger = logger.With().Str("component", "datastore").Logger()
	return Open(cfg)
}

func Open(cfg datastore.Config) (*Storage, error) {
	ds, err := datastore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// record loads a guild record; callers hold s.mu when they intend to write it back.
func (s *Storage) record(guildID string) (*Record, error) {
	var rec Record
	if _, err := s.ds.Get(guildID, &rec); err != nil {
		return nil, fmt.Errorf("load guild %s: %w", guildID, err)
	}
	if rec.Roles == nil {
		rec.Roles = map[string]string{}
	}
	if len(rec.CommandsHistoryList) > commandHistoryLimit {
		rec.CommandsHistoryList = rec.CommandsHistoryList[len(rec.CommandsHistoryList)-commandHistoryLimit:]
	}
	return &rec, nil
}

func (s *Storage) update(guildID string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(guildID)
	if err != nil {
		return err
	}
	fn(rec)
	return s.ds.Put(guildID, rec)
}

func (s *Storage) GetOverrides(_ context.Context, commandID, guildID string) ([]override.Rule, error) {
	rec, err := s.record(guildID)
	if err != nil {
		return nil, err
	}
	var out []override.Rule
	for _, r := range rec.Overrides {
		if r.CommandID == commandID {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpsertOverride replaces the guild's rule with the same key. A key held by another guild
// is left alone and reported as override.ErrOtherGuild.
func (s *Storage) UpsertOverride(_ context.Context, rule override.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, guildID := range s.ds.Keys() {
		if guildID == rule.GuildID {
			continue
		}
		rec, err := s.record(guildID)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(rec.Overrides, func(r override.Rule) bool { return r.Key() == rule.Key() }) {
			return override.ErrOtherGuild
		}
	}

	rec, err := s.record(rule.GuildID)
	if err != nil {
		return err
	}
	rec.Overrides = slices.DeleteFunc(rec.Overrides, func(r override.Rule) bool { return r.Key() == rule.Key() })
	rec.Overrides = append(rec.Overrides, rule)
	override.SortRules(rec.Overrides)
	return s.ds.Put(rule.GuildID, rec)
}

func (s *Storage) DeleteOverride(_ context.Context, commandID, targetID string, targetType override.TargetType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := override.Key{CommandID: commandID, TargetID: targetID, TargetType: targetType}
	for _, guildID := range s.ds.Keys() {
		if err := s.removeKeyLocked(guildID, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) removeKeyLocked(guildID string, key override.Key) error {
	rec, err := s.record(guildID)
	if err != nil {
		return err
	}
	n := len(rec.Overrides)
	rec.Overrides = slices.DeleteFunc(rec.Overrides, func(r override.Rule) bool { return r.Key() == key })
	if len(rec.Overrides) == n {
		return nil
	}
	return s.ds.Put(guildID, rec)
}

func (s *Storage) ListGuildOverrides(_ context.Context, guildID string) ([]override.Rule, error) {
	rec, err := s.record(guildID)
	if err != nil {
		return nil, err
	}
	return rec.Overrides, nil
}

func (s *Storage) DeleteGuildOverrides(_ context.Context, guildID string) error {
	return s.update(guildID, func(r *Record) { r.Overrides = nil })
}

func (s *Storage) AppendCommandHistory(_ context.Context, guildID string, rec CommandHistoryRecord) error {
	return s.update(guildID, func(r *Record) {
		r.CommandsHistoryList = append(r.CommandsHistoryList, rec)
		if len(r.CommandsHistoryList) > commandHistoryLimit {
			r.CommandsHistoryList = r.CommandsHistoryList[len(r.CommandsHistoryList)-commandHistoryLimit:]
		}
	})
}

func (s *Storage) CommandHistory(_ context.Context, guildID string) ([]CommandHistoryRecord, error) {
	rec, err := s.record(guildID)
	if err != nil {
		return nil, err
	}
	return rec.CommandsHistoryList, nil
}

func (s *Storage) SetRole(_ context.Context, guildID, roleType, roleID string) error {
	return s.update(guildID, func(r *Record) {
		if roleID == "" {
			delete(r.Roles, roleType)
			return
		}
		r.Roles[roleType] = roleID
	})
}

func (s *Storage) Role(_ context.Context, guildID, roleType string) (string, error) {
	rec, err := s.record(guildID)
	if err != nil {
		return "", err
	}
	roleID, ok := rec.Roles[roleType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRoleNotSet, roleType)
	}
	return roleID, nil
}

// DeleteGuild drops everything stored for a guild.
func (s *Storage) DeleteGuild(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds.Delete(guildID)
}
