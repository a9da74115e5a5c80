package realtime

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiclass/chat-backend/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPublishDeliversInOrder(t *testing.T) {
	hub := NewHub(testLogger())
	roomID := uuid.New()
	sub := hub.Subscribe(roomID)
	defer sub.Close()

	for i := 0; i < 20; i++ {
		hub.Publish(roomID, Event{
			Type:    EventMessageCreated,
			RoomID:  roomID,
			Message: &types.Message{Content: fmt.Sprintf("msg-%d", i)},
		})
	}

	for i := 0; i < 20; i++ {
		select {
		case ev := <-sub.C:
			assert.Equal(t, fmt.Sprintf("msg-%d", i), ev.Message.Content)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	roomID := uuid.New()

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = hub.Subscribe(roomID)
		defer subs[i].Close()
	}
	require.Equal(t, 3, hub.Subscribers(roomID))

	hub.Publish(roomID, Event{Type: EventSettingsUpdated, RoomID: roomID})

	for i, sub := range subs {
		select {
		case ev := <-sub.C:
			assert.Equal(t, EventSettingsUpdated, ev.Type, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no event", i)
		}
	}
}

func TestPublishIsScopedToRoom(t *testing.T) {
	hub := NewHub(testLogger())
	roomA, roomB := uuid.New(), uuid.New()

	subA := hub.Subscribe(roomA)
	defer subA.Close()
	subB := hub.Subscribe(roomB)
	defer subB.Close()

	hub.Publish(roomA, Event{Type: EventMessageCreated, RoomID: roomA})

	select {
	case <-subA.C:
	case <-time.After(time.Second):
		t.Fatal("room A subscriber got no event")
	}

	select {
	case ev := <-subB.C:
		t.Fatalf("room B subscriber received foreign event %q", ev.Type)
	default:
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(testLogger())
	roomID := uuid.New()

	slow := hub.Subscribe(roomID)
	healthy := hub.Subscribe(roomID)
	defer healthy.Close()

	// Fill the slow subscriber's buffer without draining it, then one
	// more publish overflows it.
	for i := 0; i <= subscriptionBuffer; i++ {
		hub.Publish(roomID, Event{Type: EventMessageCreated, RoomID: roomID})
		// Keep the healthy subscriber drained so only the slow one lags.
		<-healthy.C
	}

	select {
	case <-slow.Done:
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	assert.Equal(t, 1, hub.Subscribers(roomID), "only the healthy subscriber remains")

	// Further publishes still reach the healthy subscriber.
	hub.Publish(roomID, Event{Type: EventMessageUpdated, RoomID: roomID})
	select {
	case ev := <-healthy.C:
		assert.Equal(t, EventMessageUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber stopped receiving")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub(testLogger())
	roomID := uuid.New()

	sub := hub.Subscribe(roomID)
	require.Equal(t, 1, hub.Subscribers(roomID))

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, hub.Subscribers(roomID))
	select {
	case <-sub.Done:
	default:
		t.Fatal("Done must be closed after Close")
	}

	// Publishing to a room with no subscribers is a no-op.
	hub.Publish(roomID, Event{Type: EventMessageCreated, RoomID: roomID})
}

func TestSubscribeBeforeSnapshotBuffersEvents(t *testing.T) {
	hub := NewHub(testLogger())
	roomID := uuid.New()

	sub := hub.Subscribe(roomID)
	defer sub.Close()

	// An event published between subscribe and the snapshot read must
	// not be lost.
	hub.Publish(roomID, Event{Type: EventMessageCreated, RoomID: roomID})

	select {
	case ev := <-sub.C:
		assert.Equal(t, EventMessageCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event published during handshake was lost")
	}
}
