package rpcapi

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/orchestrator"
)

// TurnStartParams are the inputs to TurnStart (spec §6.2 turn.start).
type TurnStartParams struct {
	SessionID ids.SessionID
	Content   []eventlog.ContentBlock
}

// TurnStart kicks off a turn and returns as soon as it has been accepted;
// spec §6.2 describes turn.start as acknowledging only — "subsequent
// results arrive as broadcast events" over the notification bus, not as
// the RPC's own return value. The turn itself runs on a background
// context detached from ctx, since an RPC caller disconnecting must not
// abort an in-flight turn (only TurnCancel may).
func (d *Dispatcher) TurnStart(ctx context.Context, p TurnStartParams) error {
	if p.SessionID == "" {
		return newError(CodeInvalidParams, "sessionId is required")
	}
	if len(p.Content) == 0 {
		return newError(CodeInvalidParams, "content is required")
	}
	as, err := d.activate(ctx, p.SessionID)
	if err != nil {
		return err
	}

	go func() {
		if err := as.orch.StartTurn(context.Background(), p.Content); err != nil {
			d.bus.PublishTransient(p.SessionID, "turn_error")
		}
	}()
	return nil
}

// TurnCancelParams are the inputs to TurnCancel (spec §6.2 turn.cancel).
type TurnCancelParams struct {
	SessionID ids.SessionID
}

// TurnCancel cooperatively cancels a session's in-flight turn, if any. It
// is a no-op (not an error) when the session has no active turn, matching
// spec.md's framing of cancel as idempotent best-effort.
func (d *Dispatcher) TurnCancel(ctx context.Context, p TurnCancelParams) error {
	if p.SessionID == "" {
		return newError(CodeInvalidParams, "sessionId is required")
	}
	d.mu.Lock()
	as, active := d.sessions[p.SessionID]
	d.mu.Unlock()
	if !active || as.orch.State() == orchestrator.StateIdle {
		return nil
	}
	as.orch.Cancel(ctx)
	return nil
}
