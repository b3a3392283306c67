package notify

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitMessage(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(8)
	sessionID := ids.NewSessionID()
	sub := bus.Subscribe(sessionID)
	defer sub.Close()

	ev := eventlog.Event{ID: ids.NewEventID(), SessionID: sessionID, Type: eventlog.TypeMessageUser}
	bus.Publish(sessionID, ev)

	msg := waitMessage(t, sub)
	require.NotNil(t, msg.Event)
	assert.Equal(t, ev.ID, msg.Event.ID)
	assert.Empty(t, msg.Transient)
}

func TestBus_PublishTransient_CarriesNoEvent(t *testing.T) {
	bus := NewBus(8)
	sessionID := ids.NewSessionID()
	sub := bus.Subscribe(sessionID)
	defer sub.Close()

	bus.PublishTransient(sessionID, "catching_up")

	msg := waitMessage(t, sub)
	assert.Nil(t, msg.Event)
	assert.Equal(t, "catching_up", msg.Transient)
}

func TestBus_OtherSessionsNeverReceive(t *testing.T) {
	bus := NewBus(8)
	sessionA := ids.NewSessionID()
	sessionB := ids.NewSessionID()
	subA := bus.Subscribe(sessionA)
	defer subA.Close()

	bus.Publish(sessionB, eventlog.Event{ID: ids.NewEventID(), SessionID: sessionB})

	select {
	case <-subA.Messages():
		t.Fatal("subscriber for session A received a session B event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_MultipleSubscribers_AllReceive(t *testing.T) {
	bus := NewBus(8)
	sessionID := ids.NewSessionID()
	sub1 := bus.Subscribe(sessionID)
	sub2 := bus.Subscribe(sessionID)
	defer sub1.Close()
	defer sub2.Close()

	assert.Equal(t, 2, bus.SubscriberCount(sessionID))

	bus.Publish(sessionID, eventlog.Event{ID: ids.NewEventID(), SessionID: sessionID})
	waitMessage(t, sub1)
	waitMessage(t, sub2)
}

func TestBus_Close_RemovesSubscriber(t *testing.T) {
	bus := NewBus(8)
	sessionID := ids.NewSessionID()
	sub := bus.Subscribe(sessionID)
	assert.Equal(t, 1, bus.SubscriberCount(sessionID))

	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount(sessionID))
}

// TestBus_SlowSubscriber_DropsOldestNotBlocksPublisher covers spec §5: "back
// pressure drops the oldest queued message for a slow subscriber rather
// than blocking the orchestrator."
func TestBus_SlowSubscriber_DropsOldestNotBlocksPublisher(t *testing.T) {
	bus := NewBus(2)
	sessionID := ids.NewSessionID()
	sub := bus.Subscribe(sessionID)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(sessionID, eventlog.Event{ID: ids.NewEventID(), SessionID: sessionID, Sequence: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping")
	}

	assert.Greater(t, sub.Dropped(), int64(0))

	// The channel should still hold the most recent messages, not the
	// oldest — drop-oldest, not drop-newest.
	var lastSeen int
	for {
		select {
		case msg := <-sub.Messages():
			lastSeen = msg.Event.Sequence
		default:
			assert.Equal(t, 4, lastSeen)
			return
		}
	}
}

type fakeCatchupStore struct {
	events []eventlog.Event
}

func (f *fakeCatchupStore) GetEventsSince(_ context.Context, _ ids.SessionID, sinceID ids.EventID, limit int) ([]eventlog.Event, error) {
	start := 0
	if sinceID != "" {
		for i, ev := range f.events {
			if ev.ID == sinceID {
				start = i + 1
				break
			}
		}
	}
	rest := f.events[start:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]eventlog.Event, len(rest))
	copy(out, rest)
	return out, nil
}

func TestCatchup_ReturnsEventsAfterSinceID(t *testing.T) {
	first := eventlog.Event{ID: ids.NewEventID(), Sequence: 0}
	second := eventlog.Event{ID: ids.NewEventID(), Sequence: 1}
	third := eventlog.Event{ID: ids.NewEventID(), Sequence: 2}
	q := &fakeCatchupStore{events: []eventlog.Event{first, second, third}}

	result, err := Catchup(context.Background(), q, ids.NewSessionID(), first.ID)
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, second.ID, result.Events[0].ID)
	assert.Equal(t, third.ID, result.Events[1].ID)
	assert.False(t, result.Overflow)
}

func TestCatchup_EmptySinceID_ReturnsFromStart(t *testing.T) {
	first := eventlog.Event{ID: ids.NewEventID(), Sequence: 0}
	q := &fakeCatchupStore{events: []eventlog.Event{first}}

	result, err := Catchup(context.Background(), q, ids.NewSessionID(), "")
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, first.ID, result.Events[0].ID)
}

func TestCatchup_MoreThanLimit_SetsOverflow(t *testing.T) {
	var events []eventlog.Event
	for i := 0; i < CatchupLimit+10; i++ {
		events = append(events, eventlog.Event{ID: ids.NewEventID(), Sequence: i})
	}
	q := &fakeCatchupStore{events: events}

	result, err := Catchup(context.Background(), q, ids.NewSessionID(), "")
	require.NoError(t, err)
	assert.True(t, result.Overflow)
	assert.Len(t, result.Events, CatchupLimit)
}
