// ABOUTME: SQLite implementation for completion token usage tracking
// ABOUTME: Stores and aggregates LLM token consumption per character

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *CompletionUsage) error {
	query := `
		INSERT INTO completion_usage (
			id, character, request_id, model, prompt_tokens, completion_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.Character,
		usage.RequestID,
		usage.Model,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting usage: %w", ErrDatastoreIO, err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"character", usage.Character,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(prompt_tokens), 0) as total_prompt,
			COALESCE(SUM(completion_tokens), 0) as total_completion,
			COUNT(*) as request_count
		FROM completion_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.Character != nil {
		query += " AND character = ?"
		args = append(args, *filter.Character)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalPrompt,
		&stats.TotalCompletion,
		&stats.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying usage stats: %w", ErrDatastoreIO, err)
	}

	stats.TotalTokens = stats.TotalPrompt + stats.TotalCompletion
	return &stats, nil
}
