// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/worldgpt/internal/character"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	characters map[string]*character.Character
	usage      []*CompletionUsage
	schemaRuns int
	upserts    int

	// FailUpsert, when set, is returned wrapped in ErrDatastoreIO by
	// UpsertCharacter for names it reports true.
	FailUpsert func(name string) error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		characters: make(map[string]*character.Character),
	}
}

// CreateSchema counts invocations.
func (m *MockStore) CreateSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaRuns++
	return nil
}

// SchemaRuns returns how many times CreateSchema was called.
func (m *MockStore) SchemaRuns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemaRuns
}

// UpsertCharacter stores a copy of c.
func (m *MockStore) UpsertCharacter(ctx context.Context, c *character.Character) error {
	if m.FailUpsert != nil {
		if err := m.FailUpsert(c.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrDatastoreIO, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[c.Name] = c.Clone()
	m.upserts++
	return nil
}

// Upserts returns how many writes succeeded.
func (m *MockStore) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

// ListCharacters returns copies ordered by name.
func (m *MockStore) ListCharacters(ctx context.Context) ([]*character.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*character.Character, 0, len(m.characters))
	for _, c := range m.characters {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetCharacter retrieves a copy by name.
func (m *MockStore) GetCharacter(ctx context.Context, name string) (*character.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.characters[name]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// SaveUsage stores a usage record.
func (m *MockStore) SaveUsage(ctx context.Context, usage *CompletionUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *usage
	m.usage = append(m.usage, &u)
	return nil
}

// GetUsageStats aggregates stored usage records.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, u := range m.usage {
		if filter.Character != nil && u.Character != *filter.Character {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		stats.TotalPrompt += int64(u.PromptTokens)
		stats.TotalCompletion += int64(u.CompletionTokens)
		stats.RequestCount++
	}
	stats.TotalTokens = stats.TotalPrompt + stats.TotalCompletion
	return &stats, nil
}

var (
	_ Store      = (*MockStore)(nil)
	_ UsageStore = (*MockStore)(nil)
)
