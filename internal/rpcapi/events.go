package rpcapi

import (
	"context"
	"encoding/json"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/projection"
	"github.com/conductorhq/sessioncore/internal/store"
)

// EventsAppendParams are the inputs to EventsAppend (spec §6.2
// events.append). Payload is raw JSON decoded per Type using the same
// tolerant decoder the store uses when reading events.
type EventsAppendParams struct {
	SessionID ids.SessionID
	Type      eventlog.Type
	Payload   json.RawMessage
}

// EventsAppend appends a client-authored event directly, bypassing the
// turn orchestrator — used for events the client itself originates, such
// as config.model_switch or config.reasoning_level.
func (d *Dispatcher) EventsAppend(ctx context.Context, p EventsAppendParams) (eventlog.Event, error) {
	if p.SessionID == "" {
		return eventlog.Event{}, newError(CodeInvalidParams, "sessionId is required")
	}
	if !eventlog.IsKnown(p.Type) {
		return eventlog.Event{}, newError(CodeInvalidParams, "unknown event type %q", p.Type)
	}
	decoded := eventlog.DecodePayload(p.Type, p.Payload)
	if _, ok := decoded.(eventlog.UnknownPayload); ok {
		return eventlog.Event{}, newError(CodeValidationError, "payload does not match schema for %q", p.Type)
	}

	ev, err := d.appendEvent(ctx, p.SessionID, p.Type, decoded)
	if err != nil {
		return eventlog.Event{}, err
	}

	d.mu.Lock()
	as, active := d.sessions[p.SessionID]
	d.mu.Unlock()
	if active && p.Type == eventlog.TypeConfigModelSwitch {
		if sw, ok := decoded.(eventlog.ConfigModelSwitchPayload); ok {
			as.ctxmgr.SwitchModel(sw.NewModel)
		}
	}
	return ev, nil
}

// appendEvent routes a single-event append through the session's persister
// when one is active, so the persister's own head tracking — not the
// store's — stays authoritative for that session's append order (spec
// §4.3: the persister must never be bypassed once a session is active, or
// its next write would chain off a stale parent). Sessions with no active
// persister append directly; there is only ever one caller in that case.
func (d *Dispatcher) appendEvent(ctx context.Context, sessionID ids.SessionID, typ eventlog.Type, payload eventlog.Payload) (eventlog.Event, error) {
	d.mu.Lock()
	as, active := d.sessions[sessionID]
	d.mu.Unlock()

	var ev eventlog.Event
	if active {
		created := as.persist.AppendAsync(ctx, typ, payload)
		if created == nil {
			return eventlog.Event{}, newError(CodeValidationError, "session %s: %v", sessionID, as.persist.GetError())
		}
		ev = *created
	} else {
		e, err := d.store.Append(ctx, store.AppendParams{SessionID: sessionID, Type: typ, Payload: payload})
		if err != nil {
			return eventlog.Event{}, translateStoreError(err)
		}
		ev = e
	}
	d.bus.Publish(sessionID, ev)
	return ev, nil
}

// EventsGetHistoryParams are the inputs to EventsGetHistory (spec §6.2
// events.getHistory). Since, if set, is the last sequence number the
// caller has already seen (spec §5: "since = last seen sequence").
type EventsGetHistoryParams struct {
	SessionID ids.SessionID
	Since     *int
	Limit     int
}

// EventsGetHistory returns a session's events in ascending sequence order,
// optionally starting after Since and capped at Limit.
func (d *Dispatcher) EventsGetHistory(ctx context.Context, p EventsGetHistoryParams) ([]eventlog.Event, error) {
	if p.SessionID == "" {
		return nil, newError(CodeInvalidParams, "sessionId is required")
	}
	events, err := d.store.GetEventsBySession(ctx, p.SessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if p.Since != nil {
		var filtered []eventlog.Event
		for _, ev := range events {
			if ev.Sequence > *p.Since {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if p.Limit > 0 && len(events) > p.Limit {
		events = events[:p.Limit]
	}
	return events, nil
}

// EventsGetStateAtParams are the inputs to EventsGetStateAt (spec §6.2
// events.getStateAt).
type EventsGetStateAtParams struct {
	EventID ids.EventID
}

// EventsGetStateAt projects state as of one event by folding its full
// ancestor chain.
func (d *Dispatcher) EventsGetStateAt(ctx context.Context, p EventsGetStateAtParams) (projection.State, error) {
	if p.EventID == "" {
		return projection.State{}, newError(CodeInvalidParams, "eventId is required")
	}
	ancestors, err := d.store.GetAncestors(ctx, p.EventID)
	if err != nil {
		return projection.State{}, translateStoreError(err)
	}
	return projection.Fold(ancestors), nil
}

// EventsSearchParams are the inputs to EventsSearch (spec §6.2
// events.search).
type EventsSearchParams struct {
	Query       string
	WorkspaceID *ids.WorkspaceID
	SessionID   *ids.SessionID
	Limit       int
}

// EventsSearch runs a full-text search over event payloads.
func (d *Dispatcher) EventsSearch(ctx context.Context, p EventsSearchParams) ([]store.SearchResult, error) {
	if p.Query == "" {
		return nil, newError(CodeInvalidParams, "query is required")
	}
	results, err := d.store.Search(ctx, store.SearchParams{
		Query: p.Query, WorkspaceID: p.WorkspaceID, SessionID: p.SessionID, Limit: p.Limit,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return results, nil
}

// MessagesDeleteParams are the inputs to MessagesDelete (spec §6.2
// messages.delete).
type MessagesDeleteParams struct {
	SessionID ids.SessionID
	EventID   ids.EventID
}

// MessagesDelete appends a message.deleted event referencing EventID. It
// replicates store.DeleteMessage's target-type validation itself (rather
// than calling DeleteMessage directly) so the append can route through the
// session's persister when one is active, per appendEvent's contract.
func (d *Dispatcher) MessagesDelete(ctx context.Context, p MessagesDeleteParams) (eventlog.Event, error) {
	if p.SessionID == "" || p.EventID == "" {
		return eventlog.Event{}, newError(CodeInvalidParams, "sessionId and eventId are required")
	}
	target, err := d.store.GetEvent(ctx, p.EventID)
	if err != nil {
		return eventlog.Event{}, translateStoreError(err)
	}
	if target == nil {
		return eventlog.Event{}, newError(CodeEventNotFound, "event %s not found", p.EventID)
	}
	switch target.Type {
	case eventlog.TypeMessageUser, eventlog.TypeMessageAssistant, eventlog.TypeToolResult:
	default:
		return eventlog.Event{}, newError(CodeValidationError, "event type %q cannot be deleted", target.Type)
	}

	return d.appendEvent(ctx, p.SessionID, eventlog.TypeMessageDeleted,
		eventlog.MessageDeletedPayload{TargetEventID: string(p.EventID), TargetType: target.Type})
}
