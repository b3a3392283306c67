// Package rpcapi exposes the session-state core's operations as a flat set
// of Go methods matching spec.md §6.2 one-to-one (SPEC_FULL.md §10): a
// Dispatcher, not a gateway. It owns no transport, framing, or auth —
// those belong to the (out-of-scope) WebSocket gateway or, for local
// debugging only, cmd/server's thin Gin REST shim.
package rpcapi

import (
	"context"
	"sync"
	"time"

	"github.com/conductorhq/sessioncore/internal/contextmgr"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/notify"
	"github.com/conductorhq/sessioncore/internal/orchestrator"
	"github.com/conductorhq/sessioncore/internal/persister"
	"github.com/conductorhq/sessioncore/internal/projection"
	"github.com/conductorhq/sessioncore/internal/provider"
	"github.com/conductorhq/sessioncore/internal/store"
)

// ProviderFactory resolves the Stream a new turn should use for a given
// model name. Concrete provider wire clients are out of scope (spec §1
// Non-goals); callers typically supply a factory returning a
// *provider.FakeProvider or a hand-rolled adapter over their own LLM client.
type ProviderFactory func(model string) provider.Stream

// activeSession is the in-memory state a Dispatcher keeps for a session
// once it has been touched: its persister, context manager, and turn
// orchestrator. Sessions are loaded lazily and kept for the life of the
// process — there is no eviction, matching spec.md's framing of the
// persister/orchestrator pair as living "per session" with no stated
// idle-timeout policy.
type activeSession struct {
	persist *persister.Persister
	ctxmgr  *contextmgr.Manager
	orch    *orchestrator.Orchestrator
}

// Dispatcher is the RPC-surface entry point. Construct with New and call
// its methods directly; they are safe for concurrent use.
type Dispatcher struct {
	store     *store.Store
	bus       *notify.Bus
	registry  *contextmgr.ModelRegistry
	tools     orchestrator.ToolExecutor
	providers ProviderFactory
	turnTimeout time.Duration

	mu       sync.Mutex
	sessions map[ids.SessionID]*activeSession
}

// New constructs a Dispatcher. turnTimeout of zero falls back to
// orchestrator.DefaultTurnTimeout.
func New(s *store.Store, bus *notify.Bus, registry *contextmgr.ModelRegistry, tools orchestrator.ToolExecutor, providers ProviderFactory, turnTimeout time.Duration) *Dispatcher {
	if turnTimeout <= 0 {
		turnTimeout = orchestrator.DefaultTurnTimeout
	}
	return &Dispatcher{
		store: s, bus: bus, registry: registry, tools: tools, providers: providers,
		turnTimeout: turnTimeout,
		sessions:    make(map[ids.SessionID]*activeSession),
	}
}

// activate returns the activeSession for sessionID, constructing and
// rehydrating it from the event log on first touch. Rehydration replays
// the session's ancestor chain through projection.Fold to seed the context
// manager with its current model and message window; the Manager derives
// its token estimate from those messages.
func (d *Dispatcher) activate(ctx context.Context, sessionID ids.SessionID) (*activeSession, error) {
	d.mu.Lock()
	if as, ok := d.sessions[sessionID]; ok {
		d.mu.Unlock()
		return as, nil
	}
	d.mu.Unlock()

	sess, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	ancestors, err := d.store.GetAncestors(ctx, sess.HeadEventID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	state := projection.Fold(ancestors)

	p := persister.New(persister.StoreAdapter{Store: d.store}, sessionID, sess.HeadEventID)
	cm := contextmgr.New(d.registry, state.Model, state.Messages)
	cm.OnCompactionNeeded(func() { d.bus.PublishTransient(sessionID, "compaction_needed") })
	prov := d.providers(state.Model)
	orch := orchestrator.New(sessionID, p, cm, prov, d.tools, d.bus)
	orch.SetTurnTimeout(d.turnTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	if as, ok := d.sessions[sessionID]; ok {
		// Another goroutine won the race; discard ours and use theirs,
		// closing the persister we just built to avoid a leaked goroutine.
		p.Close()
		return as, nil
	}
	as := &activeSession{persist: p, ctxmgr: cm, orch: orch}
	d.sessions[sessionID] = as
	return as, nil
}

// drop removes sessionID from the active set and closes its persister, used
// once a session ends (spec §4.1 endSession: "the persister is per-session
// and owns no resources that outlive the session").
func (d *Dispatcher) drop(sessionID ids.SessionID) {
	d.mu.Lock()
	as, ok := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if ok {
		as.persist.Close()
	}
}
