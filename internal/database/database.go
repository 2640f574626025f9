// ABOUTME: Database subsystem owning the authoritative in-memory character map
// ABOUTME: All writes flow through its queue; readers only ever receive deep copies

package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/2389/worldgpt/internal/character"
	"github.com/2389/worldgpt/internal/config"
	"github.com/2389/worldgpt/internal/dedupe"
	"github.com/2389/worldgpt/internal/store"
	"github.com/2389/worldgpt/internal/subsystem"
)

var (
	// ErrDuplicateName is returned by Create when the name is taken or a
	// create for it is already queued.
	ErrDuplicateName = errors.New("character already exists")

	// ErrUnsupported is returned by Delete, which is not implemented.
	ErrUnsupported = errors.New("operation not implemented")

	// ErrNotFound is returned for names with no character.
	ErrNotFound = errors.New("character does not exist")
)

const (
	reservationTTL  = time.Minute
	maxReservations = 10000
)

// ConfigSource supplies the settings snapshot the datastore path is read from.
type ConfigSource interface {
	Snapshot() config.Config
}

// Observer is told about every character the worker has persisted.
type Observer interface {
	CharacterApplied(c *character.Character)
}

var _ store.UsageStore = (*Database)(nil)

// StoreOpener opens the datastore at path.
type StoreOpener func(path string) (store.Store, error)

func openSQLite(path string) (store.Store, error) {
	return store.NewSQLiteStore(path)
}

// create is queued by Create. It carries the reservation that keeps a
// second create of the same name out until this one is applied.
type create struct {
	c *character.Character
}

// appendMessage is queued by AppendMessage. The worker reads the current
// record, appends and upserts, so appends queued back to back all survive.
type appendMessage struct {
	name string
	msg  character.Message
}

// Option configures a Database.
type Option func(*Database)

// WithObserver registers an observer for applied writes.
func WithObserver(o Observer) Option {
	return func(d *Database) { d.observer = o }
}

// WithStoreOpener replaces the SQLite opener, mainly for tests.
func WithStoreOpener(open StoreOpener) Option {
	return func(d *Database) { d.open = open }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Database) { d.logger = logger }
}

// WithDeadLetterLimit bounds retained failed writes.
func WithDeadLetterLimit(n int) Option {
	return func(d *Database) { d.deadLetterLimit = n }
}

// Database is the subsystem that owns characters.
type Database struct {
	*subsystem.Base

	conf         ConfigSource
	open         StoreOpener
	observer     Observer
	reservations *dedupe.Reservations

	logger          *slog.Logger
	deadLetterLimit int
	closeOnce       sync.Once

	// set during bootstrap, then used only by the worker
	store store.Store

	// guarded by Guard()
	characters map[string]*character.Character
}

// New creates the database subsystem. The datastore location is read from
// conf when Bootstrap runs.
func New(conf ConfigSource, opts ...Option) *Database {
	d := &Database{
		conf:         conf,
		open:         openSQLite,
		reservations: dedupe.New(reservationTTL, maxReservations),
		characters:   make(map[string]*character.Character),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Base = subsystem.NewBase("database", d,
		subsystem.WithLogger(d.logger),
		subsystem.WithDeadLetterLimit(d.deadLetterLimit))
	return d
}

func (d *Database) datastorePath() string {
	return d.conf.Snapshot().Database.Path
}

// Exists reports whether the datastore file is present.
func (d *Database) Exists(ctx context.Context) (bool, error) {
	path := d.datastorePath()
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: checking datastore: %w", store.ErrDatastoreIO, err)
	}
}

// FirstRun creates the schema in a new datastore.
func (d *Database) FirstRun(ctx context.Context) error {
	s, err := d.ensureStore()
	if err != nil {
		return err
	}
	if err := s.CreateSchema(ctx); err != nil {
		return err
	}
	d.Logger().Info("created datastore schema", "path", d.datastorePath())
	return nil
}

// Load reads every stored character into memory.
func (d *Database) Load(ctx context.Context) error {
	s, err := d.ensureStore()
	if err != nil {
		return err
	}
	rows, err := s.ListCharacters(ctx)
	if err != nil {
		return err
	}

	loaded := make(map[string]*character.Character, len(rows))
	partial := 0
	for _, c := range rows {
		if len(c.Raw) > 0 {
			partial++
		}
		loaded[c.Name] = c
	}

	d.Guard().WriteLocked(func() {
		d.characters = loaded
	})
	charactersLoaded.Set(float64(len(loaded)))
	d.Logger().Info("characters loaded", "count", len(loaded), "with_raw_fields", partial)
	return nil
}

func (d *Database) ensureStore() (store.Store, error) {
	if d.store != nil {
		return d.store, nil
	}
	s, err := d.open(d.datastorePath())
	if err != nil {
		return nil, err
	}
	d.store = s
	return s, nil
}

// Apply persists a character and then publishes it to the in-memory map.
func (d *Database) Apply(ctx context.Context, task subsystem.Task) error {
	switch t := task.(type) {
	case create:
		defer d.reservations.Release(t.c.Name)
		exists := false
		d.Guard().ReadLocked(func() {
			_, exists = d.characters[t.c.Name]
		})
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateName, t.c.Name)
		}
		return d.upsert(ctx, t.c)
	case appendMessage:
		// Only the worker mutates the map, so this read stays current until
		// the upsert below swaps the new record in.
		var c *character.Character
		d.Guard().ReadLocked(func() {
			c = d.characters[t.name].Clone()
		})
		if c == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, t.name)
		}
		c.AppendMessage(t.msg)
		return d.upsert(ctx, c)
	case *character.Character:
		return d.upsert(ctx, t.Clone())
	case character.Character:
		return d.upsert(ctx, t.Clone())
	case *store.CompletionUsage:
		return d.store.SaveUsage(ctx, t)
	default:
		return subsystem.ErrUnknownTask
	}
}

func (d *Database) upsert(ctx context.Context, c *character.Character) error {
	if err := d.store.UpsertCharacter(ctx, c); err != nil {
		return err
	}

	var count int
	d.Guard().WriteLocked(func() {
		d.characters[c.Name] = c
		count = len(d.characters)
	})
	charactersLoaded.Set(float64(count))

	if d.observer != nil {
		d.observer.CharacterApplied(c.Clone())
	}
	return nil
}

// Snapshot returns a deep copy of every character keyed by name.
func (d *Database) Snapshot() map[string]*character.Character {
	var out map[string]*character.Character
	d.Guard().ReadLocked(func() {
		out = make(map[string]*character.Character, len(d.characters))
		for name, c := range d.characters {
			out[name] = c.Clone()
		}
	})
	return out
}

// Names returns the character names in sorted order.
func (d *Database) Names() []string {
	var names []string
	d.Guard().ReadLocked(func() {
		names = make([]string, 0, len(d.characters))
		for name := range d.characters {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

// Get returns a copy of the named character.
func (d *Database) Get(name string) (*character.Character, error) {
	var c *character.Character
	d.Guard().ReadLocked(func() {
		c = d.characters[name].Clone()
	})
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// Create queues a new character. It returns ErrDuplicateName if the name is
// already stored or another create for it has not been applied yet. A nil
// error means the write is queued, not that it has completed.
func (d *Database) Create(c *character.Character) error {
	if c.Name == "" {
		return errors.New("character name is required")
	}
	if !d.reservations.Reserve(c.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}

	exists := false
	d.Guard().ReadLocked(func() {
		_, exists = d.characters[c.Name]
	})
	if exists {
		d.reservations.Release(c.Name)
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}

	if err := d.Enqueue(create{c: c.Clone()}); err != nil {
		d.reservations.Release(c.Name)
		return err
	}
	return nil
}

// Save queues an upsert of c. Last write for a name wins.
func (d *Database) Save(c *character.Character) error {
	return d.Enqueue(c.Clone())
}

// AppendMessage queues m onto the named character's history. The append is
// applied against whatever record the worker holds at that point, not a copy
// taken by the caller.
func (d *Database) AppendMessage(name string, m character.Message) error {
	exists := false
	d.Guard().ReadLocked(func() {
		_, exists = d.characters[name]
	})
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d.Enqueue(appendMessage{name: name, msg: m})
}

// Delete reports ErrNotFound for unknown names and ErrUnsupported otherwise.
func (d *Database) Delete(name string) error {
	exists := false
	d.Guard().ReadLocked(func() {
		_, exists = d.characters[name]
	})
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ErrUnsupported
}

// SaveUsage queues a usage record for the worker to write.
func (d *Database) SaveUsage(ctx context.Context, u *store.CompletionUsage) error {
	return d.Enqueue(u)
}

// GetUsageStats reads usage totals straight from the datastore.
func (d *Database) GetUsageStats(ctx context.Context, filter store.UsageFilter) (*store.UsageStats, error) {
	if !d.Active() {
		return nil, subsystem.ErrNotActive
	}
	return d.store.GetUsageStats(ctx, filter)
}

// Shutdown drains the queue, then closes the datastore. If the worker does
// not stop in time the datastore is left open for it.
func (d *Database) Shutdown(ctx context.Context) error {
	defer d.reservations.Close()

	if err := d.Base.Shutdown(ctx); err != nil {
		return err
	}
	var err error
	d.closeOnce.Do(func() {
		if d.store == nil {
			return
		}
		if cerr := d.store.Close(); cerr != nil {
			err = fmt.Errorf("%w: closing datastore: %w", store.ErrDatastoreIO, cerr)
		}
	})
	return err
}
