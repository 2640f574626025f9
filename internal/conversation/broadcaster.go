// ABOUTME: In-memory fan-out of character updates to live subscribers
// ABOUTME: Fed by the database worker after each write is persisted

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/worldgpt/internal/character"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllCharacters subscribes to updates for every character.
	AllCharacters = "*"
)

// Update announces that a character was persisted and published.
type Update struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Character *character.Character `json:"character"`
	At        time.Time            `json:"at"`
}

// Broadcaster provides in-memory pub/sub for character updates. Subscribers
// register for a character name, or AllCharacters, and receive updates as
// the database worker applies them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // name -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for updates to name. The returned channel is closed
// when ctx is cancelled, on Unsubscribe, or when the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, name string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[name]; !ok {
		b.subscribers[name] = make(map[string]chan *Update)
	}
	b.subscribers[name][subID] = ch
	b.mu.Unlock()

	subscribersGauge.Inc()
	b.logger.Debug("subscriber added", "name", name, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(name, subID)
	}()

	return ch, subID
}

// Publish delivers u to subscribers of u.Name and of AllCharacters.
// Sends never block: a subscriber whose buffer is full misses the update.
func (b *Broadcaster) Publish(u *Update) {
	// Channels are only closed under the write lock, so sending while
	// holding the read lock cannot hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{u.Name, AllCharacters} {
		for subID, ch := range b.subscribers[key] {
			select {
			case ch <- u:
			default:
				droppedUpdates.Inc()
				b.logger.Debug("dropped update for slow subscriber",
					"name", u.Name,
					"sub_id", subID,
					"update_id", u.ID)
			}
		}
	}
}

// CharacterApplied publishes an update for c. The database worker calls it
// with a copy it no longer touches.
func (b *Broadcaster) CharacterApplied(c *character.Character) {
	b.Publish(&Update{
		ID:        uuid.New().String(),
		Name:      c.Name,
		Character: c,
		At:        time.Now().UTC(),
	})
}

// Subscribers returns the number of live subscriptions for name.
func (b *Broadcaster) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(name, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[name]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	subscribersGauge.Dec()

	if len(subs) == 0 {
		delete(b.subscribers, name)
	}

	b.logger.Debug("subscriber removed", "name", name, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
			subscribersGauge.Dec()
		}
		delete(b.subscribers, name)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
