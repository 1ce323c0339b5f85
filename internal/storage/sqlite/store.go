// Package sqlite is a storage.Backend on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage"
)

const historyLimit = 20

type Store struct {
	db *sql.DB
}

var _ storage.Backend = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" gives a private in-memory db.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serialises writers anyway and :memory: is per connection.
	db.SetMaxOpenConns(1)
	return New(db)
}

func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS overrides (
		command_id  TEXT NOT NULL,
		guild_id    TEXT NOT NULL,
		target_id   TEXT NOT NULL,
		target_type INTEGER NOT NULL,
		enabled     INTEGER NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (command_id, target_id, target_type)
	);
	CREATE INDEX IF NOT EXISTS overrides_guild ON overrides (guild_id, command_id);

	CREATE TABLE IF NOT EXISTS command_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id     TEXT NOT NULL,
		channel_id   TEXT,
		channel_name TEXT,
		guild_name   TEXT,
		user_id      TEXT,
		username     TEXT,
		command      TEXT,
		param        TEXT,
		datetime     TEXT
	);
	CREATE INDEX IF NOT EXISTS command_history_guild ON command_history (guild_id, id);

	CREATE TABLE IF NOT EXISTS guild_roles (
		guild_id  TEXT NOT NULL,
		role_type TEXT NOT NULL,
		role_id   TEXT NOT NULL,
		PRIMARY KEY (guild_id, role_type)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetOverrides(ctx context.Context, commandID, guildID string) ([]override.Rule, error) {
	return s.queryRules(ctx, `
		SELECT command_id, guild_id, target_id, target_type, enabled, priority
		FROM overrides
		WHERE command_id = ? AND guild_id = ?
		ORDER BY target_type, target_id`, commandID, guildID)
}

func (s *Store) ListGuildOverrides(ctx context.Context, guildID string) ([]override.Rule, error) {
	return s.queryRules(ctx, `
		SELECT command_id, guild_id, target_id, target_type, enabled, priority
		FROM overrides
		WHERE guild_id = ?
		ORDER BY command_id, target_type, target_id`, guildID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]override.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []override.Rule
	for rows.Next() {
		var r override.Rule
		if err := rows.Scan(&r.CommandID, &r.GuildID, &r.TargetID, &r.TargetType, &r.Enabled, &r.Priority); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertOverride relies on the UNIQUE constraint; a conflicting row of the same guild is
// updated in place, one of another guild leaves nothing affected.
func (s *Store) UpsertOverride(ctx context.Context, rule override.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO overrides (command_id, guild_id, target_id, target_type, enabled, priority)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (command_id, target_id, target_type)
		DO UPDATE SET enabled = excluded.enabled, priority = excluded.priority
		WHERE overrides.guild_id = excluded.guild_id`,
		rule.CommandID, rule.GuildID, rule.TargetID, int(rule.TargetType), rule.Enabled, rule.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	if n == 0 {
		return override.ErrOtherGuild
	}
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, commandID, targetID string, targetType override.TargetType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM overrides WHERE command_id = ? AND target_id = ? AND target_type = ?`,
		commandID, targetID, int(targetType))
	return err
}

func (s *Store) DeleteGuildOverrides(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) AppendCommandHistory(ctx context.Context, guildID string, rec storage.CommandHistoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO command_history (guild_id, channel_id, channel_name, guild_name, user_id, username, command, param, datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		guildID, rec.ChannelID, rec.ChannelName, rec.GuildName, rec.UserID, rec.Username, rec.Command, rec.Param,
		rec.Datetime.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM command_history
		WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM command_history WHERE guild_id = ? ORDER BY id DESC LIMIT ?
		)`, guildID, guildID, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CommandHistory(ctx context.Context, guildID string) ([]storage.CommandHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, channel_name, guild_name, user_id, username, command, param, datetime
		FROM command_history
		WHERE guild_id = ?
		ORDER BY id`, guildID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []storage.CommandHistoryRecord
	for rows.Next() {
		var (
			rec storage.CommandHistoryRecord
			ts  string
		)
		if err := rows.Scan(&rec.ChannelID, &rec.ChannelName, &rec.GuildName, &rec.UserID, &rec.Username, &rec.Command, &rec.Param, &ts); err != nil {
			return nil, err
		}
		if rec.Datetime, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse history time: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SetRole(ctx context.Context, guildID, roleType, roleID string) error {
	if roleID == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM guild_roles WHERE guild_id = ? AND role_type = ?`, guildID, roleType)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_roles (guild_id, role_type, role_id) VALUES (?, ?, ?)
		ON CONFLICT (guild_id, role_type) DO UPDATE SET role_id = excluded.role_id`,
		guildID, roleType, roleID)
	return err
}

func (s *Store) Role(ctx context.Context, guildID, roleType string) (string, error) {
	var roleID string
	err := s.db.QueryRowContext(ctx,
		`SELECT role_id FROM guild_roles WHERE guild_id = ? AND role_type = ?`, guildID, roleType).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", storage.ErrRoleNotSet, roleType)
	}
	return roleID, err
}

func (s *Store) DeleteGuild(ctx context.Context, guildID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM overrides WHERE guild_id = ?`,
		`DELETE FROM command_history WHERE guild_id = ?`,
		`DELETE FROM guild_roles WHERE guild_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, guildID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
