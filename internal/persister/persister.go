// Package persister serialises concurrent append calls for one session into
// a single FIFO writer, so the turn orchestrator can fire appends without
// racing on the session head (spec §4.3).
//
// Grounded on tarsy's pkg/events/listener.go: a single goroutine (there, the
// NOTIFY receive loop; here, the session's writer loop) is the sole owner of
// a shared resource, and every operation is submitted as a command value over
// a channel with its own per-call result channel, exactly like listener.go's
// cmdCh/listenCmd/result shape.
package persister

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// Appender is the subset of store.Store the persister drives. A narrow
// interface so tests can substitute a fake store without a database.
type Appender interface {
	Append(ctx context.Context, p AppendParams) (eventlog.Event, error)
	AppendMultiple(ctx context.Context, sessionID ids.SessionID, items []AppendItem) ([]eventlog.Event, error)
}

// AppendParams mirrors store.AppendParams; persister package stays
// decoupled from internal/store so it can be driven by a fake in tests.
type AppendParams struct {
	SessionID ids.SessionID
	Type      eventlog.Type
	Payload   eventlog.Payload
	ParentID  *ids.EventID
}

// AppendItem mirrors store.AppendItem.
type AppendItem struct {
	Type    eventlog.Type
	Payload eventlog.Payload
}

type opKind int

const (
	opAppend opKind = iota
	opAppendMultiple
	opFlush
)

type writeOp struct {
	kind     opKind
	typ      eventlog.Type
	payload  eventlog.Payload
	items    []AppendItem
	onCreated func(eventlog.Event)
	result   chan opResult // nil for fire-and-forget appends
}

type opResult struct {
	event  eventlog.Event
	events []eventlog.Event
	err    error
}

// Persister is a per-session single-writer queue in front of an Appender
// (spec §4.3).
type Persister struct {
	sessionID ids.SessionID
	store     Appender

	queue chan writeOp

	mu          sync.Mutex
	pendingHead ids.EventID

	errMu  sync.Mutex
	stuck  bool
	stuckErr error

	closed atomic.Bool
	done   chan struct{}
}

// New starts a persister for one session, seeded with the session's current
// head event id (so the first enqueued append chains off it correctly).
func New(store Appender, sessionID ids.SessionID, headEventID ids.EventID) *Persister {
	p := &Persister{
		sessionID:   sessionID,
		store:       store,
		queue:       make(chan writeOp, 256),
		pendingHead: headEventID,
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// AppendAsync enqueues an append and awaits its result, returning nil if the
// persister has a latched error or the append itself fails (spec §4.3).
func (p *Persister) AppendAsync(ctx context.Context, typ eventlog.Type, payload eventlog.Payload) *eventlog.Event {
	if p.HasError() {
		return nil
	}
	resultCh := make(chan opResult, 1)
	op := writeOp{kind: opAppend, typ: typ, payload: payload, result: resultCh}
	select {
	case p.queue <- op:
	case <-ctx.Done():
		return nil
	}
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil
		}
		return &res.event
	case <-ctx.Done():
		return nil
	}
}

// Append is fire-and-forget: it enqueues and returns immediately without
// waiting for the commit. onCreated, if non-nil, is invoked by the writer
// goroutine once the append resolves successfully.
func (p *Persister) Append(typ eventlog.Type, payload eventlog.Payload, onCreated func(eventlog.Event)) {
	if p.HasError() {
		return
	}
	op := writeOp{kind: opAppend, typ: typ, payload: payload, onCreated: onCreated}
	select {
	case p.queue <- op:
	default:
		// Queue is saturated; caller already knows appends are
		// best-effort for fire-and-forget. Drop rather than block the
		// orchestrator's hot path.
	}
}

// AppendMultiple enqueues an atomic multi-event append and awaits all of the
// resulting events.
func (p *Persister) AppendMultiple(ctx context.Context, items []AppendItem) []eventlog.Event {
	if p.HasError() {
		return nil
	}
	resultCh := make(chan opResult, 1)
	op := writeOp{kind: opAppendMultiple, items: items, result: resultCh}
	select {
	case p.queue <- op:
	case <-ctx.Done():
		return nil
	}
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil
		}
		return res.events
	case <-ctx.Done():
		return nil
	}
}

// Flush completes once every operation enqueued before this call has either
// committed or failed.
func (p *Persister) Flush(ctx context.Context) {
	resultCh := make(chan opResult, 1)
	op := writeOp{kind: opFlush, result: resultCh}
	select {
	case p.queue <- op:
	case <-ctx.Done():
		return
	}
	select {
	case <-resultCh:
	case <-ctx.Done():
	}
}

// GetPendingHeadEventID returns the head id the next enqueued append will
// chain from.
func (p *Persister) GetPendingHeadEventID() ids.EventID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingHead
}

func (p *Persister) HasError() bool {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.stuck
}

func (p *Persister) GetError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.stuckErr
}

func (p *Persister) latch(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if !p.stuck {
		p.stuck = true
		p.stuckErr = err
	}
}

// Close stops the writer goroutine. Already-enqueued operations still drain
// before it exits.
func (p *Persister) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.queue)
		<-p.done
	}
}

// run is the sole goroutine that ever calls into p.store for this session —
// the direct analogue of listener.go's receiveLoop being the sole user of
// the pgx connection.
func (p *Persister) run() {
	defer close(p.done)
	for op := range p.queue {
		if op.kind == opFlush {
			if op.result != nil {
				op.result <- opResult{}
			}
			continue
		}

		if p.HasError() {
			if op.result != nil {
				op.result <- opResult{err: p.GetError()}
			}
			continue
		}

		switch op.kind {
		case opAppend:
			p.mu.Lock()
			parent := p.pendingHead
			p.mu.Unlock()

			ev, err := p.store.Append(context.Background(), AppendParams{
				SessionID: p.sessionID, Type: op.typ, Payload: op.payload, ParentID: &parent,
			})
			if err != nil {
				p.latch(fmt.Errorf("persister append: %w", err))
				if op.result != nil {
					op.result <- opResult{err: err}
				}
				continue
			}
			p.mu.Lock()
			p.pendingHead = ev.ID
			p.mu.Unlock()
			if op.onCreated != nil {
				op.onCreated(ev)
			}
			if op.result != nil {
				op.result <- opResult{event: ev}
			}

		case opAppendMultiple:
			events, err := p.store.AppendMultiple(context.Background(), p.sessionID, op.items)
			if err != nil {
				p.latch(fmt.Errorf("persister append multiple: %w", err))
				if op.result != nil {
					op.result <- opResult{err: err}
				}
				continue
			}
			if len(events) > 0 {
				p.mu.Lock()
				p.pendingHead = events[len(events)-1].ID
				p.mu.Unlock()
			}
			if op.result != nil {
				op.result <- opResult{events: events}
			}
		}
	}
}
