// Package bus implements the per-user event fan-out: each connected client
// subscribes to its user's channel and receives file-change and conflict
// events produced by the sync engine.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/models"
)

// Default bus tuning.
const (
	// DefaultBuffer is the per-subscriber channel depth. Publishing never
	// blocks; events beyond the buffer are dropped for that subscriber.
	DefaultBuffer = 64

	// DefaultStaleAfter is how long a subscriber may go without a
	// heartbeat before the bus closes it.
	DefaultStaleAfter = 90 * time.Second

	// DefaultSweepInterval is how often stale subscribers are collected.
	DefaultSweepInterval = 30 * time.Second
)

// Subscription is one client's handle on the bus. Events arrive on C until
// Unsubscribe is called or the subscription goes stale, after which C is
// closed.
type Subscription struct {
	ID       string
	Username string
	ClientID string
	C        <-chan *models.SyncEvent

	ch       chan *models.SyncEvent
	lastSeen time.Time
}

// Config holds event bus settings.
type Config struct {
	Buffer        int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Buffer == 0 {
		c.Buffer = DefaultBuffer
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Bus fans sync events out to the subscribers of each user. Delivery is
// at-least-once from the client's perspective (the client also reconciles
// by checksum and version vector), and per-publisher FIFO per subscriber.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*Subscription // username -> subscription id
	config  Config
	now     func() time.Time
	metrics *metrics.SyncMetrics
}

// SetMetrics attaches subscriber metrics collection. m may be nil.
func (b *Bus) SetMetrics(m *metrics.SyncMetrics) {
	b.metrics = m
}

// New creates an event bus.
func New(config Config) *Bus {
	config.ApplyDefaults()
	return &Bus{
		subs:   make(map[string]map[string]*Subscription),
		config: config,
		now:    time.Now,
	}
}

// Subscribe registers a client for its user's events.
func (b *Bus) Subscribe(username, clientID string) *Subscription {
	ch := make(chan *models.SyncEvent, b.config.Buffer)
	sub := &Subscription{
		ID:       uuid.New().String(),
		Username: username,
		ClientID: clientID,
		C:        ch,
		ch:       ch,
		lastSeen: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[username] == nil {
		b.subs[username] = make(map[string]*Subscription)
	}
	b.subs[username][sub.ID] = sub

	b.metrics.SubscriberConnected()
	logger.Debug("bus subscribe", "user", username, "client", clientID, "subscription", sub.ID)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) {
	userSubs, ok := b.subs[sub.Username]
	if !ok {
		return
	}
	if _, ok := userSubs[sub.ID]; !ok {
		return
	}
	delete(userSubs, sub.ID)
	if len(userSubs) == 0 {
		delete(b.subs, sub.Username)
	}
	close(sub.ch)
	b.metrics.SubscriberDisconnected()
}

// PublishFileChange delivers a file-change event to every subscriber of the
// user except the client that produced it.
func (b *Bus) PublishFileChange(username string, event *models.SyncEvent) {
	b.publish(username, event, func(sub *Subscription) bool {
		return sub.ClientID != event.ClientID
	})
}

// PublishConflict delivers a conflict event to every subscriber of the
// user, including the producer.
func (b *Bus) PublishConflict(username string, event *models.SyncEvent) {
	b.publish(username, event, func(*Subscription) bool { return true })
}

func (b *Bus) publish(username string, event *models.SyncEvent, want func(*Subscription) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.metrics.EventPublished(event.EventType)
	for _, sub := range b.subs[username] {
		if !want(sub) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow consumer; the client reconciles on reconnect.
			logger.Warn("bus drop: subscriber buffer full",
				"user", username, "client", sub.ClientID, "event", event.EventType)
		}
	}
}

// Heartbeat records a client's liveness probe and returns the ack event.
// Returns nil if the subscription is unknown.
func (b *Bus) Heartbeat(subscriptionID string) *models.SyncEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, userSubs := range b.subs {
		if sub, ok := userSubs[subscriptionID]; ok {
			sub.lastSeen = b.now()
			return &models.SyncEvent{
				ID:         uuid.New().String(),
				UserID:     sub.Username,
				EventType:  string(models.EventHeartbeatAck),
				Timestamp:  b.now().UTC(),
				ClientID:   sub.ClientID,
				SyncStatus: string(models.EventCompleted),
			}
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for a user.
func (b *Bus) SubscriberCount(username string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[username])
}

// SweepStale closes subscriptions that have missed heartbeats for longer
// than the staleness cutoff. Returns the number closed.
func (b *Bus) SweepStale() int {
	cutoff := b.now().Add(-b.config.StaleAfter)

	b.mu.Lock()
	defer b.mu.Unlock()

	closed := 0
	for _, userSubs := range b.subs {
		for _, sub := range userSubs {
			if sub.lastSeen.Before(cutoff) {
				logger.Info("bus closing stale subscription",
					"user", sub.Username, "client", sub.ClientID, "subscription", sub.ID)
				b.removeLocked(sub)
				closed++
			}
		}
	}
	return closed
}

// Run drives the staleness sweeper until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.SweepStale()
		}
	}
}
