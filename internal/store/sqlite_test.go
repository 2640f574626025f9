// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema idempotence, character round trips, upsert semantics and tolerant decoding

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/worldgpt/internal/character"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "datastore.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateSchema_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSchema(ctx))
	require.NoError(t, store.UpsertCharacter(ctx, fullCharacter()))

	// A second run must neither fail nor touch existing rows
	require.NoError(t, store.CreateSchema(ctx))

	got, err := store.ListCharacters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fullCharacter(), got[0])
}

func TestListCharacters_WithoutSchema(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ListCharacters(context.Background())
	if !errors.Is(err, ErrDatastoreIO) {
		t.Fatalf("ListCharacters() error = %v, want ErrDatastoreIO", err)
	}
}

func TestUpsertCharacter_RoundTrip(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	want := fullCharacter()
	require.NoError(t, store.UpsertCharacter(ctx, want))

	got, err := store.GetCharacter(ctx, "Aria")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A fresh handle on the same file reconstructs the same record
	reopened, err := NewSQLiteStore(store.dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.ListCharacters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, want, all[0])
}

func TestUpsertCharacter_MinimalRoundTrip(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	want := &character.Character{
		Name:      "Aria",
		Gender:    character.GenderFemale,
		Inventory: []string{},
		Messages:  []character.Message{},
		Summaries: []string{},
	}
	require.NoError(t, store.UpsertCharacter(ctx, want))

	got, err := store.GetCharacter(ctx, "Aria")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, got.Age)
	assert.Nil(t, got.Attributes)
	assert.NotNil(t, got.Inventory)
}

func TestUpsertCharacter_Replaces(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	first := fullCharacter()
	second := fullCharacter()
	second.Mood = "furious"
	second.Messages = append(second.Messages, character.Message{Role: character.RoleUser, Content: "again", CreatedAt: 3})

	require.NoError(t, store.UpsertCharacter(ctx, first))
	require.NoError(t, store.UpsertCharacter(ctx, second))

	all, err := store.ListCharacters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "furious", all[0].Mood)
	assert.Len(t, all[0].Messages, 3)
}

func TestListCharacters_OrderedByName(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zed", "Aria", "Mira"} {
		c := fullCharacter()
		c.Name = name
		require.NoError(t, store.UpsertCharacter(ctx, c))
	}

	all, err := store.ListCharacters(ctx)
	require.NoError(t, err)
	var names []string
	for _, c := range all {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Aria", "Mira", "Zed"}, names)
}

func TestGetCharacter_NotFound(t *testing.T) {
	store := newSchemaStore(t)

	_, err := store.GetCharacter(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCharacter() error = %v, want ErrNotFound", err)
	}
}

func TestListCharacters_TolerantDecoding(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO characters (name, description, gender, age, inventory, messages, summaries, meta)
		VALUES ('Bram', 'a smith', 'Male', 'forty-ish', '{not json', '[{"role":"user","content":"hi","created_at":5}]', '["met the player"]', '[]')
	`)
	require.NoError(t, err)

	all, err := store.ListCharacters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	c := all[0]
	assert.Equal(t, "Bram", c.Name)
	assert.Nil(t, c.Age)
	assert.Nil(t, c.Inventory)
	assert.Equal(t, map[string]string{"age": "forty-ish", "inventory": "{not json"}, c.Raw)

	// Well-formed columns on the same row decode normally
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "hi", c.Messages[0].Content)
	assert.Equal(t, []string{"met the player"}, c.Summaries)
	assert.Equal(t, []character.Message{}, c.Meta)
}

func TestUpsertCharacter_PreservesRawColumns(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO characters (name, description, gender, inventory, messages, summaries, meta)
		VALUES ('Bram', 'a smith', 'Male', '{not json', '[]', '[]', '[]')
	`)
	require.NoError(t, err)

	loaded, err := store.GetCharacter(ctx, "Bram")
	require.NoError(t, err)
	loaded.Mood = "busy"
	require.NoError(t, store.UpsertCharacter(ctx, loaded))

	var inventory string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT inventory FROM characters WHERE name = 'Bram'`).Scan(&inventory))
	assert.Equal(t, "{not json", inventory)

	// Once the typed field is set the raw text is superseded
	loaded.Inventory = []string{"hammer"}
	require.NoError(t, store.UpsertCharacter(ctx, loaded))
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT inventory FROM characters WHERE name = 'Bram'`).Scan(&inventory))
	assert.Equal(t, `["hammer"]`, inventory)
}

func TestUsage(t *testing.T) {
	store := newSchemaStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []*CompletionUsage{
		{ID: "u1", Character: "Aria", RequestID: "r1", Model: "gpt-4", PromptTokens: 100, CompletionTokens: 20, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "u2", Character: "Aria", RequestID: "r2", Model: "gpt-4", PromptTokens: 50, CompletionTokens: 10, CreatedAt: now},
		{ID: "u3", Character: "Bram", RequestID: "r3", Model: "gpt-4", PromptTokens: 7, CompletionTokens: 3, CreatedAt: now},
	}
	for _, u := range records {
		require.NoError(t, store.SaveUsage(ctx, u))
	}

	all, err := store.GetUsageStats(ctx, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, UsageStats{TotalPrompt: 157, TotalCompletion: 33, TotalTokens: 190, RequestCount: 3}, *all)

	aria := "Aria"
	since := now.Add(-time.Hour)
	recent, err := store.GetUsageStats(ctx, UsageFilter{Character: &aria, Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(1), recent.RequestCount)
	assert.Equal(t, int64(60), recent.TotalTokens)
}

func fullCharacter() *character.Character {
	age := 34.5
	birthdate := float64(time.Date(1990, time.March, 14, 0, 0, 0, 0, time.UTC).Unix())
	health := 87.25
	return &character.Character{
		Name:        "Aria",
		Description: "A tall ranger with a green cloak",
		Rank:        "captain",
		Title:       "Dame",
		Occupation:  "scout",
		Age:         &age,
		Birthdate:   &birthdate,
		Gender:      character.GenderFemale,
		Alignment:   character.NeutralGood,
		Mood:        "wary",
		Attributes:  []string{"brave", "quiet"},
		Health:      &health,
		Inventory:   []string{"bow", "rope"},
		Messages: []character.Message{
			{Role: character.RoleUser, Content: "Who goes there?", CreatedAt: 1.5},
			{Role: character.RoleAssistant, Content: "A friend.", CreatedAt: 2.25},
		},
		Summaries: []string{"The player met Aria at the gate."},
		Meta: []character.Message{
			{Role: character.RoleSystem, Content: "Never reveal your true name to elves.", CreatedAt: 1},
		},
	}
}

type testStore struct {
	*SQLiteStore
	dbPath string
}

func newTestStore(t *testing.T) testStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return testStore{SQLiteStore: store, dbPath: dbPath}
}

func newSchemaStore(t *testing.T) testStore {
	t.Helper()
	store := newTestStore(t)
	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	return store
}
