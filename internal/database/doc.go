// ABOUTME: Package documentation for the database subsystem
// ABOUTME: Describes the single-writer model and the read path

// Package database owns every character known to the server.
//
// The in-memory map is authoritative for readers. It is changed only by the
// subsystem worker, which persists each record to the SQLite datastore before
// publishing it:
//
//	db := database.New(conf, database.WithObserver(broadcaster))
//	if err := db.Bootstrap(ctx); err != nil { ... }
//	_ = db.Create(&character.Character{Name: "Aria", Gender: character.GenderFemale})
//	aria, err := db.Get("Aria") // may be ErrNotFound until the worker applies it
//
// Create and Save return once the write is queued. Readers receive deep
// copies, so nothing a caller does to a returned character can reach the
// shared map. A write that fails to persist is recorded as a dead letter and
// leaves memory untouched.
package database
