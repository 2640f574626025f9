// ABOUTME: Explicit registration list of subsystems composed by the process root
// ABOUTME: Bootstraps in registration order and shuts down in reverse with bounded waits

package subsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultShutdownTimeout bounds each member's shutdown when none is configured.
const DefaultShutdownTimeout = 5 * time.Second

// Lifecycle is the part of a subsystem the Group drives.
type Lifecycle interface {
	Name() string
	Bootstrap(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Active() bool
}

// Group owns an ordered set of subsystems. Later members may depend on
// earlier ones (the database reads the configuration), never the reverse.
type Group struct {
	members []Lifecycle
	timeout time.Duration
	logger  *slog.Logger
	started []Lifecycle
}

// NewGroup registers members in bootstrap order.
func NewGroup(timeout time.Duration, logger *slog.Logger, members ...Lifecycle) *Group {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{
		members: members,
		timeout: timeout,
		logger:  logger.With("component", "subsystems"),
	}
}

// Bootstrap starts every member in order. A member that is already active
// is adopted as started. If one fails, the members already started are shut
// down and the failure is returned.
func (g *Group) Bootstrap(ctx context.Context) error {
	for _, m := range g.members {
		if m.Active() {
			g.started = append(g.started, m)
			continue
		}
		if err := m.Bootstrap(ctx); err != nil {
			g.logger.Error("bootstrap failed", "subsystem", m.Name(), "error", err)
			if shutdownErr := g.Shutdown(); shutdownErr != nil {
				return errors.Join(fmt.Errorf("bootstrapping %s: %w", m.Name(), err), shutdownErr)
			}
			return fmt.Errorf("bootstrapping %s: %w", m.Name(), err)
		}
		g.started = append(g.started, m)
	}
	return nil
}

// Shutdown stops started members in reverse order, each with its own
// bounded wait. A member that times out is logged and skipped.
func (g *Group) Shutdown() error {
	var errs []error
	for i := len(g.started) - 1; i >= 0; i-- {
		m := g.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		if err := m.Shutdown(ctx); err != nil {
			g.logger.Error("shutdown failed", "subsystem", m.Name(), "error", err)
			errs = append(errs, err)
		}
		cancel()
	}
	g.started = nil
	return errors.Join(errs...)
}

// Active reports whether every registered member is active.
func (g *Group) Active() bool {
	for _, m := range g.members {
		if !m.Active() {
			return false
		}
	}
	return len(g.members) > 0
}

// Status returns each member's active flag keyed by name.
func (g *Group) Status() map[string]bool {
	out := make(map[string]bool, len(g.members))
	for _, m := range g.members {
		out[m.Name()] = m.Active()
	}
	return out
}
