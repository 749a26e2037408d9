// ABOUTME: In-memory fan-out of persisted turns for cross-client awareness
// ABOUTME: Publishes each saved turn to every subscriber of the owning user

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Published is a turn that was just persisted.
type Published struct {
	ChatID string `json:"chat_id"`
	Turn   Turn   `json:"turn"`
}

// Broadcaster provides in-memory pub/sub of persisted turns, keyed by user.
// A user with several tabs or devices open sees turns from all of them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Published // userID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Published),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for a user's turns. The subscription is removed and
// its channel closed when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan *Published, string) {
	subID := uuid.New().String()
	ch := make(chan *Published, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *Published)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends a turn to all of a user's subscribers. Subscribers whose
// buffers are full miss the turn.
func (b *Broadcaster) Publish(userID string, p *Published) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[userID] {
		select {
		case ch <- p:
		default:
			b.logger.Debug("dropped turn for slow subscriber",
				"user_id", userID, "sub_id", subID, "message_id", p.Turn.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.logger.Debug("broadcaster closed")
}
