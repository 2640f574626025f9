// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Lists and nested messages are stored as JSON text and decoded tolerantly

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/2389/worldgpt/internal/character"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the SQLite datastore at the given path.
// Parent directories are created if needed. The schema is not created here;
// callers run CreateSchema when the datastore is new.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %w", ErrDatastoreIO, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", ErrDatastoreIO, err)
	}

	// Enable WAL mode so snapshot readers don't block the worker's writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %w", ErrDatastoreIO, err)
	}

	logger.Info("SQLite store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS characters (
		name        TEXT PRIMARY KEY NOT NULL,
		description TEXT NOT NULL,
		rank        TEXT,
		title       TEXT,
		occupation  TEXT,
		age         REAL,
		birthdate   REAL,
		gender      TEXT NOT NULL,
		alignment   TEXT,
		mood        TEXT,
		attributes  TEXT,
		health      REAL,
		inventory   TEXT,
		messages    TEXT NOT NULL,
		summaries   TEXT NOT NULL,
		meta        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completion_usage (
		id                TEXT PRIMARY KEY,
		character         TEXT NOT NULL,
		request_id        TEXT NOT NULL,
		model             TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_character ON completion_usage(character, created_at);
`

// CreateSchema creates the tables if they don't exist
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: creating schema: %w", ErrDatastoreIO, err)
	}
	s.logger.Debug("schema ensured")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertCharacter inserts or replaces a character keyed by name.
// Columns that failed to decode on load are written back unchanged while the
// corresponding typed field is still empty.
func (s *SQLiteStore) UpsertCharacter(ctx context.Context, c *character.Character) error {
	query := `
		INSERT OR REPLACE INTO characters (
			name, description, rank, title, occupation, age, birthdate,
			gender, alignment, mood, attributes, health, inventory,
			messages, summaries, meta
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []any{
		c.Name,
		c.Description,
		nullString(c.Rank),
		nullString(c.Title),
		nullString(c.Occupation),
		floatColumn(c, "age", c.Age),
		floatColumn(c, "birthdate", c.Birthdate),
		string(c.Gender),
		nullString(string(c.Alignment)),
		nullString(c.Mood),
	}

	attributes, err := jsonColumn(c, "attributes", c.Attributes, c.Attributes == nil)
	if err != nil {
		return err
	}
	inventory, err := jsonColumn(c, "inventory", c.Inventory, c.Inventory == nil)
	if err != nil {
		return err
	}
	messages, err := jsonColumn(c, "messages", c.Messages, c.Messages == nil)
	if err != nil {
		return err
	}
	summaries, err := jsonColumn(c, "summaries", c.Summaries, c.Summaries == nil)
	if err != nil {
		return err
	}
	meta, err := jsonColumn(c, "meta", c.Meta, c.Meta == nil)
	if err != nil {
		return err
	}
	args = append(args, attributes, floatColumn(c, "health", c.Health), inventory, messages, summaries, meta)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upserting character %q: %w", ErrDatastoreIO, c.Name, err)
	}

	s.logger.Debug("upserted character", "name", c.Name, "messages", len(c.Messages))
	return nil
}

const selectCharacter = `
	SELECT name, description, rank, title, occupation, age, birthdate,
	       gender, alignment, mood, attributes, health, inventory,
	       messages, summaries, meta
	FROM characters
`

// ListCharacters loads every stored character ordered by name.
func (s *SQLiteStore) ListCharacters(ctx context.Context) ([]*character.Character, error) {
	rows, err := s.db.QueryContext(ctx, selectCharacter+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("%w: querying characters: %w", ErrDatastoreIO, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*character.Character
	for rows.Next() {
		c, err := s.scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating character rows: %w", ErrDatastoreIO, err)
	}
	return out, nil
}

// GetCharacter retrieves a character by name.
// Returns ErrNotFound if the character doesn't exist.
func (s *SQLiteStore) GetCharacter(ctx context.Context, name string) (*character.Character, error) {
	rows, err := s.db.QueryContext(ctx, selectCharacter+" WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("%w: querying character: %w", ErrDatastoreIO, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: querying character: %w", ErrDatastoreIO, err)
		}
		return nil, ErrNotFound
	}
	return s.scanCharacter(rows)
}

// scanCharacter decodes one row. Every column is scanned loosely so that a
// single malformed value never fails the row.
func (s *SQLiteStore) scanCharacter(rows *sql.Rows) (*character.Character, error) {
	var (
		name, description, rank, title, occupation any
		age, birthdate, gender, alignment, mood    any
		attributes, health, inventory              any
		messages, summaries, meta                  any
	)
	err := rows.Scan(
		&name, &description, &rank, &title, &occupation, &age, &birthdate,
		&gender, &alignment, &mood, &attributes, &health, &inventory,
		&messages, &summaries, &meta,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning character row: %w", ErrDatastoreIO, err)
	}

	c := &character.Character{
		Name:        textValue(name),
		Description: textValue(description),
		Rank:        textValue(rank),
		Title:       textValue(title),
		Occupation:  textValue(occupation),
		Gender:      character.Gender(textValue(gender)),
		Alignment:   character.Alignment(textValue(alignment)),
		Mood:        textValue(mood),
	}

	d := decoder{c: c, logger: s.logger}
	c.Age = d.float("age", age)
	c.Birthdate = d.float("birthdate", birthdate)
	c.Health = d.float("health", health)
	c.Attributes = decodeJSON[[]string](d, "attributes", attributes)
	c.Inventory = decodeJSON[[]string](d, "inventory", inventory)
	c.Messages = decodeJSON[[]character.Message](d, "messages", messages)
	c.Summaries = decodeJSON[[]string](d, "summaries", summaries)
	c.Meta = decodeJSON[[]character.Message](d, "meta", meta)

	return c, nil
}

// decoder applies the keep-raw-on-failure rule to one record.
type decoder struct {
	c      *character.Character
	logger *slog.Logger
}

func (d decoder) keepRaw(column, raw string, err error) {
	if d.c.Raw == nil {
		d.c.Raw = make(map[string]string)
	}
	d.c.Raw[column] = raw
	d.logger.Warn("kept undecodable column raw",
		"name", d.c.Name,
		"column", column,
		"error", err)
}

func (d decoder) float(column string, v any) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return &x
	case int64:
		f := float64(x)
		return &f
	case string, []byte:
		raw := textValue(x)
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			d.keepRaw(column, raw, err)
			return nil
		}
		return &f
	default:
		d.keepRaw(column, fmt.Sprint(x), fmt.Errorf("unexpected %T", x))
		return nil
	}
}

// decodeJSON returns the zero value and keeps the text raw when it does not
// decode as T.
func decodeJSON[T any](d decoder, column string, v any) T {
	var out T
	if v == nil {
		return out
	}
	raw := textValue(v)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		d.keepRaw(column, raw, err)
		var zero T
		return zero
	}
	return out
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// jsonColumn encodes v, or returns the retained raw text when the typed
// field is empty and the column failed to decode earlier.
func jsonColumn(c *character.Character, column string, v any, empty bool) (any, error) {
	if raw, ok := c.Raw[column]; ok && empty {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s for %q: %w", column, c.Name, err)
	}
	return string(data), nil
}

func floatColumn(c *character.Character, column string, v *float64) any {
	if v != nil {
		return *v
	}
	if raw, ok := c.Raw[column]; ok {
		return raw
	}
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements the store interfaces
var (
	_ Store      = (*SQLiteStore)(nil)
	_ UsageStore = (*SQLiteStore)(nil)
)
