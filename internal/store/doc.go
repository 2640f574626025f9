// Package store provides persistent storage for worldgpt using SQLite.
//
// # Architecture
//
//   - Store: character rows keyed by name
//   - UsageStore: completion token usage per character
//
// SQLiteStore implements both interfaces. MockStore is an in-memory
// implementation for tests that can inject write failures.
//
// # Character Rows
//
// Scalar fields map to columns directly. Attributes, inventory, messages,
// summaries and meta are stored as JSON text. On load every column is
// scanned loosely: a value that does not decode is kept verbatim in
// Character.Raw and logged, and the rest of the row loads normally. An
// upsert writes the raw text back while the typed field is still empty, so
// an undecodable column survives a rewrite of its row.
//
// # Schema
//
// CreateSchema uses CREATE TABLE IF NOT EXISTS and may be called any number
// of times. There are no migrations.
//
// # Errors
//
// Every datastore failure wraps ErrDatastoreIO. GetCharacter returns
// ErrNotFound for unknown names.
//
// # Usage
//
//	s, err := store.NewSQLiteStore(path)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.CreateSchema(ctx); err != nil {
//	    return err
//	}
//	err = s.UpsertCharacter(ctx, c)
package store
