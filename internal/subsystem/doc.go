// Package subsystem provides the lifecycle shared by worldgpt's long-lived
// services.
//
// # Overview
//
// A subsystem owns some mutable state and the persisted copy of it. Every
// subsystem has:
//
//   - an RWLock guarding its in-memory state
//   - an unbounded FIFO task queue
//   - exactly one worker goroutine draining that queue
//   - a lifecycle state (uninitialized, bootstrapping, active, draining, terminated)
//
// Readers take the read lock and copy what they need. Writers never mutate
// directly: they enqueue a typed task and the worker applies it under the
// write lock. Tasks for one subsystem are applied in enqueue order.
//
// # Lifecycle
//
//	UNINITIALIZED -> Bootstrap -> ACTIVE -> Terminate/Shutdown -> DRAINING -> TERMINATED
//
// Bootstrap asks the concrete subsystem whether persisted state exists,
// calls FirstRun if it does not, calls Load, then starts the worker.
// Terminate queues the terminator behind any pending tasks; tasks offered
// after that are rejected with ErrNotActive. Shutdown does the same and
// waits for the worker with a deadline.
//
// # Failed Tasks
//
// A task whose handler returns an error is logged, counted and kept in a
// bounded dead-letter list. It is not retried.
//
// # Usage
//
//	type Store struct {
//	    *subsystem.Base
//	    items map[string]Item
//	}
//
//	s := &Store{items: map[string]Item{}}
//	s.Base = subsystem.NewBase("store", s, subsystem.WithLogger(logger))
//	if err := s.Bootstrap(ctx); err != nil { ... }
//	_ = s.Enqueue(item)
//
// Subsystems are composed explicitly with a Group:
//
//	group := subsystem.NewGroup(5*time.Second, logger, cfg, db)
//	if err := group.Bootstrap(ctx); err != nil { ... }
//	defer group.Shutdown()
package subsystem
