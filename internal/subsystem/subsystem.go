// ABOUTME: Base lifecycle shared by long-lived services: lock, queue, worker, active flag
// ABOUTME: All mutations are applied one at a time by a single worker goroutine in FIFO order

package subsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotActive is returned when a task is offered to a subsystem that has
	// not been bootstrapped or has begun shutting down.
	ErrNotActive = errors.New("subsystem not active")

	// ErrAlreadyStarted is returned by a second call to Bootstrap.
	ErrAlreadyStarted = errors.New("subsystem already bootstrapped")

	// ErrShutdownTimeout is returned when the worker does not exit before
	// the shutdown context expires.
	ErrShutdownTimeout = errors.New("subsystem worker did not stop in time")

	// ErrUnknownTask is returned by Hooks.Apply for task shapes it does not
	// handle. The worker counts such tasks as ignored, never as failures.
	ErrUnknownTask = errors.New("unknown task type")
)

// DefaultDeadLetterLimit bounds the dead-letter list when no option is given.
const DefaultDeadLetterLimit = 100

// Task is any value placed on a subsystem queue.
type Task any

// terminator is the distinguished task that ends the worker loop.
type terminator struct{}

// barrier is closed by the worker when every task queued before it has been applied.
type barrier struct {
	done chan struct{}
}

// State is the lifecycle position of a subsystem.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateActive
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Hooks is implemented by each concrete subsystem.
type Hooks interface {
	// Exists reports whether persisted state is already present.
	Exists(ctx context.Context) (bool, error)

	// FirstRun seeds default persisted state. Called only when Exists is false.
	FirstRun(ctx context.Context) error

	// Load reads persisted state into the subsystem's guarded fields.
	Load(ctx context.Context) error

	// Apply performs one queued mutation on the worker goroutine. It must
	// return ErrUnknownTask for task shapes it does not handle.
	Apply(ctx context.Context, task Task) error
}

// DeadLetter records a task whose handler failed. Failed tasks are never retried.
type DeadLetter struct {
	Task     Task
	Err      error
	FailedAt time.Time
}

// Option configures a Base.
type Option func(*Base)

// WithLogger sets the logger. The subsystem name is attached as "component".
func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDeadLetterLimit bounds how many failed tasks are retained.
func WithDeadLetterLimit(n int) Option {
	return func(b *Base) {
		if n > 0 {
			b.deadLetterLimit = n
		}
	}
}

// Base provides a subsystem with its lock, queue, worker and lifecycle flag.
// Concrete subsystems embed *Base and pass themselves as Hooks.
type Base struct {
	name   string
	hooks  Hooks
	guard  RWLock
	queue  *taskQueue
	state  atomic.Int32
	done   chan struct{}
	logger *slog.Logger

	// set by Terminate while bootstrapping; Bootstrap stops the worker it starts
	stopRequested atomic.Bool

	dlMu            sync.Mutex
	deadLetters     []DeadLetter
	deadLetterLimit int
}

// NewBase creates the shared machinery for a subsystem called name.
func NewBase(name string, hooks Hooks, opts ...Option) *Base {
	b := &Base{
		name:            name,
		hooks:           hooks,
		queue:           newTaskQueue(),
		done:            make(chan struct{}),
		logger:          slog.Default(),
		deadLetterLimit: DefaultDeadLetterLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", name)
	return b
}

// Name returns the subsystem name.
func (b *Base) Name() string { return b.name }

// Logger returns the subsystem's component logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Guard returns the lock protecting the subsystem's mutable state.
func (b *Base) Guard() *RWLock { return &b.guard }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// Active reports whether the worker is running and accepting tasks.
func (b *Base) Active() bool { return b.State() == StateActive }

// Done is closed once the worker goroutine has exited.
func (b *Base) Done() <-chan struct{} { return b.done }

// Bootstrap resolves persisted state, seeds it on first run, loads it and
// starts exactly one worker. A failed bootstrap leaves the subsystem
// terminated; singletons are not restarted.
func (b *Base) Bootstrap(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateBootstrapping)) {
		return ErrAlreadyStarted
	}
	b.logger.Info("bootstrapping subsystem")

	if err := b.prepare(ctx); err != nil {
		b.state.Store(int32(StateTerminated))
		b.queue.close()
		close(b.done)
		return err
	}

	b.state.Store(int32(StateActive))
	activeGauge.WithLabelValues(b.name).Set(1)
	go b.run()

	b.logger.Info("subsystem active")
	if b.stopRequested.Load() {
		b.Terminate()
	}
	return nil
}

func (b *Base) prepare(ctx context.Context) error {
	exists, err := b.hooks.Exists(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s state: %w", b.name, err)
	}
	if !exists {
		b.logger.Info("no persisted state found, running first-run setup")
		if err := b.hooks.FirstRun(ctx); err != nil {
			return fmt.Errorf("%s first run: %w", b.name, err)
		}
	}
	if err := b.hooks.Load(ctx); err != nil {
		return fmt.Errorf("loading %s state: %w", b.name, err)
	}
	return nil
}

// Enqueue offers a task to the worker. It never blocks on the worker.
func (b *Base) Enqueue(task Task) error {
	if b.State() != StateActive {
		return ErrNotActive
	}
	if !b.queue.push(task) {
		return ErrNotActive
	}
	queueDepth.WithLabelValues(b.name).Inc()
	return nil
}

// Terminate queues the terminator behind every task already queued and
// stops accepting new tasks. It does not wait for the worker. Called during
// Bootstrap, it takes effect as soon as the worker has started.
func (b *Base) Terminate() {
	if b.State() == StateBootstrapping {
		b.stopRequested.Store(true)
	}
	if !b.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return
	}
	activeGauge.WithLabelValues(b.name).Set(0)
	if b.queue.pushAndClose(terminator{}) {
		queueDepth.WithLabelValues(b.name).Inc()
	}
	b.logger.Info("terminator queued, draining")
}

// Sync blocks until every task queued before the call has been applied.
func (b *Base) Sync(ctx context.Context) error {
	bar := barrier{done: make(chan struct{})}
	if err := b.Enqueue(bar); err != nil {
		return err
	}
	select {
	case <-bar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown queues the terminator and waits for the worker to exit or for
// ctx to expire. On timeout the worker is abandoned: it finishes whatever
// task it is stuck in and then exits on its own.
func (b *Base) Shutdown(ctx context.Context) error {
	if b.state.CompareAndSwap(int32(StateUninitialized), int32(StateTerminated)) {
		close(b.done)
		return nil
	}
	b.logger.Info("gracefully shutting down")
	b.Terminate()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.logger.Error("worker did not stop before deadline",
			"pending", b.queue.len(),
			"error", ctx.Err())
		return fmt.Errorf("%s: %w", b.name, ErrShutdownTimeout)
	}
}

// DeadLetters returns a copy of the retained failed tasks, oldest first.
func (b *Base) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Pending returns the number of queued tasks.
func (b *Base) Pending() int { return b.queue.len() }

// run is the worker loop.
func (b *Base) run() {
	defer close(b.done)
	ctx := context.Background()

	for {
		task := b.queue.pop()
		queueDepth.WithLabelValues(b.name).Dec()

		switch t := task.(type) {
		case terminator:
			b.state.Store(int32(StateTerminated))
			activeGauge.WithLabelValues(b.name).Set(0)
			b.logger.Info("worker stopped")
			return
		case barrier:
			close(t.done)
			continue
		}

		b.apply(ctx, task)
	}
}

func (b *Base) apply(ctx context.Context, task Task) {
	start := time.Now()
	err := b.safeApply(ctx, task)
	taskDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		tasksTotal.WithLabelValues(b.name, resultOK).Inc()
	case errors.Is(err, ErrUnknownTask):
		tasksTotal.WithLabelValues(b.name, resultIgnored).Inc()
		b.logger.Debug("ignoring task", "type", fmt.Sprintf("%T", task))
	default:
		tasksTotal.WithLabelValues(b.name, resultFailed).Inc()
		b.logger.Error("task failed, moved to dead letters",
			"type", fmt.Sprintf("%T", task),
			"error", err)
		b.deadLetter(task, err)
	}
}

// safeApply turns a panicking handler into a failed task so the worker survives.
func (b *Base) safeApply(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying task: %v", r)
		}
	}()
	return b.hooks.Apply(ctx, task)
}

func (b *Base) deadLetter(task Task, err error) {
	deadLettersTotal.WithLabelValues(b.name).Inc()

	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	if len(b.deadLetters) >= b.deadLetterLimit {
		b.deadLetters = b.deadLetters[1:]
	}
	b.deadLetters = append(b.deadLetters, DeadLetter{Task: task, Err: err, FailedAt: time.Now()})
}
