// ABOUTME: Store interface and data types for worldgpt persistence
// ABOUTME: Character rows plus completion token usage records

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/worldgpt/internal/character"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDatastoreIO wraps every failure to open, create, query or write the datastore
var ErrDatastoreIO = errors.New("datastore i/o failed")

// Store defines the interface for character persistence
type Store interface {
	// CreateSchema creates every table if missing. Safe to call repeatedly.
	CreateSchema(ctx context.Context) error

	// UpsertCharacter inserts or replaces the row keyed by c.Name.
	UpsertCharacter(ctx context.Context, c *character.Character) error

	// ListCharacters decodes every stored row. A column that fails to decode
	// is kept raw on the record instead of failing the row.
	ListCharacters(ctx context.Context) ([]*character.Character, error)

	// GetCharacter returns ErrNotFound if no row has the given name.
	GetCharacter(ctx context.Context, name string) (*character.Character, error)

	UsageStore

	Close() error
}

// CompletionUsage records the tokens spent on one completion request
type CompletionUsage struct {
	ID               string
	Character        string
	RequestID        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// UsageFilter narrows aggregate usage queries
type UsageFilter struct {
	Character *string
	Since     *time.Time
}

// UsageStats aggregates completion usage
type UsageStats struct {
	TotalPrompt     int64 `json:"total_prompt"`
	TotalCompletion int64 `json:"total_completion"`
	TotalTokens     int64 `json:"total_tokens"`
	RequestCount    int64 `json:"request_count"`
}

// UsageStore tracks token consumption per character
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *CompletionUsage) error
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}
