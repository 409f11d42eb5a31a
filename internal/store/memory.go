package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]rules.FilterRule // id -> rule
	seq   int64
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]rules.FilterRule),
		now:   time.Now,
	}
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]rules.FilterRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rules.FilterRule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r.Clone())
	}
	sortByID(result)
	return result, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id string) (*rules.FilterRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.rules[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (m *MemoryStore) CreateRule(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	r := draft.Clone()
	r.Normalize()
	r.ID = strconv.FormatInt(m.seq, 10)
	r.CreatedAt = m.now().UTC()
	r.UpdatedAt = r.CreatedAt

	m.rules[r.ID] = r
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, rule rules.FilterRule) (rules.FilterRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.rules[rule.ID]
	if !exists {
		return rules.FilterRule{}, ErrNotFound
	}
	r := rule.Clone()
	r.Normalize()
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.now().UTC()

	m.rules[r.ID] = r
	return r.Clone(), nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[id]; !exists {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
