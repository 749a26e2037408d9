// ABOUTME: Tests for the per-user turn broadcaster
// ABOUTME: Covers fan-out, user isolation, slow subscribers and cleanup

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/llm"
)

func published(id string) *Published {
	return &Published{ChatID: "chat-1", Turn: Turn{ID: id, Message: llm.Message{Role: llm.RoleUser, Content: "hi"}}}
}

func receive(t *testing.T, ch <-chan *Published) *Published {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for turn")
		return nil
	}
}

func TestBroadcaster_FanOutToUser(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	first, _ := b.Subscribe(ctx, "alice")
	second, _ := b.Subscribe(ctx, "alice")
	other, _ := b.Subscribe(ctx, "bob")

	b.Publish("alice", published("m1"))

	assert.Equal(t, "m1", receive(t, first).Turn.ID)
	assert.Equal(t, "m1", receive(t, second).Turn.ID)
	select {
	case p := <-other:
		t.Fatalf("bob received alice's turn %s", p.Turn.ID)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "alice")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("alice", published("m"))
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "alice")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// Publishing after removal must not panic
	b.Publish("alice", published("late"))
}

func TestBroadcaster_UnsubscribeTwice(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, id := b.Subscribe(context.Background(), "alice")

	b.Unsubscribe("alice", id)
	b.Unsubscribe("alice", id)

	_, ok := <-ch
	assert.False(t, ok)
	b.Close()
}
