package persister

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory Appender for persister tests, chaining
// parent ids exactly like internal/store but without a database.
type fakeStore struct {
	mu     sync.Mutex
	events []eventlog.Event
	dead   bool
}

func (f *fakeStore) Append(_ context.Context, p AppendParams) (eventlog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return eventlog.Event{}, errors.New("store closed")
	}
	ev := eventlog.Event{
		ID: ids.NewEventID(), SessionID: p.SessionID, Type: p.Type,
		Sequence: len(f.events), ParentID: p.ParentID, Payload: p.Payload,
	}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeStore) AppendMultiple(_ context.Context, sessionID ids.SessionID, items []AppendItem) ([]eventlog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return nil, errors.New("store closed")
	}
	var out []eventlog.Event
	for _, it := range items {
		var parent *ids.EventID
		if len(f.events) > 0 {
			id := f.events[len(f.events)-1].ID
			parent = &id
		}
		ev := eventlog.Event{ID: ids.NewEventID(), SessionID: sessionID, Type: it.Type, Sequence: len(f.events), ParentID: parent, Payload: it.Payload}
		f.events = append(f.events, ev)
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeStore) snapshot() []eventlog.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventlog.Event{}, f.events...)
}

func (f *fakeStore) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = true
}

// TestPersister_LinearisationUnderRapidAppend is spec §8 scenario S1 at the
// persister layer: ten tight fire-and-forget appends followed by Flush must
// leave a correctly chained, sequential log.
func TestPersister_LinearisationUnderRapidAppend(t *testing.T) {
	fs := &fakeStore{}
	sessionID := ids.NewSessionID()
	root := ids.NewEventID()
	fs.events = append(fs.events, eventlog.Event{ID: root, SessionID: sessionID, Type: eventlog.TypeSessionStart, Sequence: 0})

	p := New(fs, sessionID, root)
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Append(eventlog.TypeMessageUser, eventlog.MessageUserPayload{Content: []eventlog.ContentBlock{eventlog.TextBlock("m")}}, nil)
	}
	p.Flush(context.Background())

	events := fs.snapshot()
	require.Len(t, events, 11)
	for i, ev := range events {
		assert.Equal(t, i, ev.Sequence)
		if i > 0 {
			assert.Equal(t, events[i-1].ID, *ev.ParentID)
		}
	}
}

func TestPersister_AppendAsync_ReturnsCreatedEvent(t *testing.T) {
	fs := &fakeStore{}
	sessionID := ids.NewSessionID()
	root := ids.NewEventID()
	p := New(fs, sessionID, root)
	defer p.Close()

	ev := p.AppendAsync(context.Background(), eventlog.TypeMessageUser, eventlog.MessageUserPayload{Content: []eventlog.ContentBlock{eventlog.TextBlock("hi")}})
	require.NotNil(t, ev)
	assert.Equal(t, root, *ev.ParentID)
	assert.Equal(t, ev.ID, p.GetPendingHeadEventID())
}

// TestPersister_ErrorLatch is spec §8 scenario S6.
func TestPersister_ErrorLatch(t *testing.T) {
	fs := &fakeStore{}
	sessionID := ids.NewSessionID()
	root := ids.NewEventID()
	p := New(fs, sessionID, root)
	defer p.Close()

	fs.kill()

	ev := p.AppendAsync(context.Background(), eventlog.TypeMessageUser, eventlog.MessageUserPayload{})
	assert.Nil(t, ev)
	assert.True(t, p.HasError())
	assert.Error(t, p.GetError())

	headBefore := p.GetPendingHeadEventID()
	p.Append(eventlog.TypeMessageUser, eventlog.MessageUserPayload{}, func(eventlog.Event) {
		t.Fatal("onCreated must not fire once the persister is latched")
	})
	p.Flush(context.Background())
	assert.Equal(t, headBefore, p.GetPendingHeadEventID())
	assert.Len(t, fs.snapshot(), 0)
}

func TestPersister_AppendMultiple_ChainsWithinOneCall(t *testing.T) {
	fs := &fakeStore{}
	sessionID := ids.NewSessionID()
	root := ids.NewEventID()
	fs.events = append(fs.events, eventlog.Event{ID: root, SessionID: sessionID, Type: eventlog.TypeSessionStart})

	p := New(fs, sessionID, root)
	defer p.Close()

	events := p.AppendMultiple(context.Background(), []AppendItem{
		{Type: eventlog.TypeCompactBoundary, Payload: eventlog.CompactBoundaryPayload{}},
		{Type: eventlog.TypeCompactSummary, Payload: eventlog.CompactSummaryPayload{Summary: "s"}},
	})
	require.Len(t, events, 2)
	assert.Equal(t, events[0].ID, *events[1].ParentID)
	assert.Equal(t, events[1].ID, p.GetPendingHeadEventID())
}

func TestPersister_Flush_WaitsForQueueDrain(t *testing.T) {
	fs := &fakeStore{}
	sessionID := ids.NewSessionID()
	root := ids.NewEventID()
	p := New(fs, sessionID, root)
	defer p.Close()

	for i := 0; i < 50; i++ {
		p.Append(eventlog.TypeMessageUser, eventlog.MessageUserPayload{}, nil)
	}
	done := make(chan struct{})
	go func() {
		p.Flush(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not complete")
	}
	assert.Len(t, fs.snapshot(), 50)
}
