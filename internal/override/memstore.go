package override

import (
	"context"
	"sort"
	"sync"
)

// MemStore keeps rules in memory. It is used in tests and when no storage is configured.
type MemStore struct {
	mu    sync.RWMutex
	rules map[string]map[Key]Rule // guildID -> key -> rule
}

func NewMemStore() *MemStore {
	return &MemStore{rules: make(map[string]map[Key]Rule)}
}

func (m *MemStore) GetOverrides(_ context.Context, commandID, guildID string) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Rule
	for k, r := range m.rules[guildID] {
		if k.CommandID == commandID {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

func (m *MemStore) UpsertOverride(_ context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for g, rules := range m.rules {
		if _, held := rules[rule.Key()]; held && g != rule.GuildID {
			return ErrOtherGuild
		}
	}
	if m.rules[rule.GuildID] == nil {
		m.rules[rule.GuildID] = make(map[Key]Rule)
	}
	m.rules[rule.GuildID][rule.Key()] = rule
	return nil
}

func (m *MemStore) DeleteOverride(_ context.Context, commandID, targetID string, targetType TargetType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{CommandID: commandID, TargetID: targetID, TargetType: targetType}
	for _, rules := range m.rules {
		delete(rules, key)
	}
	return nil
}

func (m *MemStore) ListGuildOverrides(_ context.Context, guildID string) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Rule, 0, len(m.rules[guildID]))
	for _, r := range m.rules[guildID] {
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (m *MemStore) DeleteGuildOverrides(_ context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, guildID)
	return nil
}

// sortRules orders rules by command, then type, then target so listings are stable.
func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.CommandID != b.CommandID {
			return a.CommandID < b.CommandID
		}
		if a.TargetType != b.TargetType {
			return a.TargetType < b.TargetType
		}
		return a.TargetID < b.TargetID
	})
}

// SortRules exposes the listing order used by the stores.
func SortRules(rules []Rule) { sortRules(rules) }
