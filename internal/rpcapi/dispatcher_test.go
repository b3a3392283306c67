package rpcapi

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/sessioncore/internal/contextmgr"
	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/notify"
	"github.com/conductorhq/sessioncore/internal/provider"
	"github.com/conductorhq/sessioncore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// fakeTools is a no-op ToolExecutor; none of the tests in this file drive a
// turn far enough to need real tool output.
type fakeTools struct{}

func (fakeTools) Execute(_ context.Context, _ eventlog.ToolCallPayload) ([]eventlog.ContentBlock, bool, error) {
	return nil, false, nil
}

// newTestStore spins up a disposable PostgreSQL container, mirroring
// internal/store's own newTestStore helper (package-private there, so the
// dispatcher's black-box tests need their own copy).
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := store.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}
	s, err := store.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	s := newTestStore(t)
	bus := notify.NewBus(notify.DefaultBufferSize)
	providers := func(model string) provider.Stream {
		return provider.NewFakeProvider(
			provider.TextDone("ok", eventlog.TokenUsage{InputTokens: 1, OutputTokens: 1}, model),
		)
	}
	return New(s, bus, contextmgr.DefaultModelRegistry(), fakeTools{}, providers, 0)
}

func createTestSession(t *testing.T, d *Dispatcher) *store.Session {
	t.Helper()
	sess, err := d.SessionCreate(context.Background(), SessionCreateParams{
		WorkingDirectory: "/work/repo", InitialModel: "claude-sonnet-4",
	})
	require.NoError(t, err)
	return sess
}

func TestDispatcher_SessionResume_UnknownSession_ReturnsSessionNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.SessionResume(context.Background(), SessionResumeParams{SessionID: ids.NewSessionID()})
	require.Error(t, err)
	rpcErr, ok := err.(*Error)
	require.True(t, ok, "expected *rpcapi.Error, got %T", err)
	assert.Equal(t, CodeSessionNotFound, rpcErr.Code)
}

func TestDispatcher_EventsGetStateAt_UnknownEvent_ReturnsEventNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.EventsGetStateAt(context.Background(), EventsGetStateAtParams{EventID: ids.NewEventID()})
	require.Error(t, err)
	rpcErr, ok := err.(*Error)
	require.True(t, ok, "expected *rpcapi.Error, got %T", err)
	assert.Equal(t, CodeEventNotFound, rpcErr.Code)
}

func TestDispatcher_SessionResume_ActivatesOnce(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	_, err := d.SessionResume(context.Background(), SessionResumeParams{SessionID: sess.ID})
	require.NoError(t, err)

	d.mu.Lock()
	first := d.sessions[sess.ID]
	d.mu.Unlock()
	require.NotNil(t, first)

	_, err = d.SessionResume(context.Background(), SessionResumeParams{SessionID: sess.ID})
	require.NoError(t, err)

	d.mu.Lock()
	second := d.sessions[sess.ID]
	d.mu.Unlock()
	assert.Same(t, first, second, "resume should reuse the cached activeSession rather than re-activating")
}

// TestDispatcher_EventsAppend_RoutesThroughPersisterOnceActive is the
// regression test for the appendEvent persister-bypass bug: once a session
// is active, every further append must chain its ParentID off the
// persister's own tracked head, never off a value read back from the store
// directly (which would desync the two once the orchestrator also appends
// through the same persister).
func TestDispatcher_EventsAppend_RoutesThroughPersisterOnceActive(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	_, err := d.SessionResume(context.Background(), SessionResumeParams{SessionID: sess.ID})
	require.NoError(t, err)

	d.mu.Lock()
	as := d.sessions[sess.ID]
	d.mu.Unlock()
	require.NotNil(t, as)

	ev1, err := d.EventsAppend(context.Background(), EventsAppendParams{
		SessionID: sess.ID,
		Type:      eventlog.TypeConfigModelSwitch,
		Payload:   []byte(`{"previous_model":"claude-sonnet-4","new_model":"claude-opus-4"}`),
	})
	require.NoError(t, err)

	ev2, err := d.EventsAppend(context.Background(), EventsAppendParams{
		SessionID: sess.ID,
		Type:      eventlog.TypeConfigModelSwitch,
		Payload:   []byte(`{"previous_model":"claude-opus-4","new_model":"claude-sonnet-4"}`),
	})
	require.NoError(t, err)

	require.NotNil(t, ev2.ParentID)
	assert.Equal(t, ev1.ID, *ev2.ParentID, "second append should chain off the first via the persister's pendingHead")
	assert.Equal(t, ev2.ID, as.persist.GetPendingHeadEventID(), "persister's own head must have advanced, not been bypassed")
}

func TestDispatcher_EventsAppend_SwitchesModelOnContextManager(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	_, err := d.SessionResume(context.Background(), SessionResumeParams{SessionID: sess.ID})
	require.NoError(t, err)

	d.mu.Lock()
	as := d.sessions[sess.ID]
	d.mu.Unlock()

	_, err = d.EventsAppend(context.Background(), EventsAppendParams{
		SessionID: sess.ID,
		Type:      eventlog.TypeConfigModelSwitch,
		Payload:   []byte(`{"previous_model":"claude-sonnet-4","new_model":"claude-opus-4"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", as.ctxmgr.GetSnapshot().Model)
}

func TestDispatcher_EventsAppend_UnknownType_ReturnsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	_, err := d.EventsAppend(context.Background(), EventsAppendParams{
		SessionID: sess.ID, Type: eventlog.Type("bogus.type"), Payload: []byte(`{}`),
	})
	require.Error(t, err)
	rpcErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestDispatcher_MessagesDelete_RejectsNonDeletableTarget(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	history, err := d.EventsGetHistory(context.Background(), EventsGetHistoryParams{SessionID: sess.ID})
	require.NoError(t, err)
	require.NotEmpty(t, history)
	sessionStart := history[0]
	assert.Equal(t, eventlog.TypeSessionStart, sessionStart.Type)

	_, err = d.MessagesDelete(context.Background(), MessagesDeleteParams{SessionID: sess.ID, EventID: sessionStart.ID})
	require.Error(t, err)
	rpcErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeValidationError, rpcErr.Code)
}

func TestDispatcher_SessionDelete_DropsActiveSession(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	_, err := d.SessionResume(context.Background(), SessionResumeParams{SessionID: sess.ID})
	require.NoError(t, err)

	require.NoError(t, d.SessionDelete(context.Background(), SessionDeleteParams{SessionID: sess.ID}))

	d.mu.Lock()
	_, stillActive := d.sessions[sess.ID]
	d.mu.Unlock()
	assert.False(t, stillActive, "SessionDelete must drop the activeSession cache entry")

	_, err = d.EventsAppend(context.Background(), EventsAppendParams{
		SessionID: sess.ID, Type: eventlog.TypeConfigModelSwitch,
		Payload: []byte(`{"previous_model":"claude-sonnet-4","new_model":"claude-opus-4"}`),
	})
	require.Error(t, err)
	rpcErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeSessionEnded, rpcErr.Code)
}

func TestDispatcher_TurnCancel_NeverActivated_IsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.TurnCancel(context.Background(), TurnCancelParams{SessionID: ids.NewSessionID()})
	assert.NoError(t, err)
}

func TestDispatcher_SessionFork_DefaultsFromEventIDToHead(t *testing.T) {
	d := newTestDispatcher(t)
	sess := createTestSession(t, d)

	forked, err := d.SessionFork(context.Background(), SessionForkParams{SessionID: sess.ID, Name: "fork-a"})
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, forked.ID)
}
