package rpcapi

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/projection"
	"github.com/conductorhq/sessioncore/internal/store"
)

// SessionCreateParams are the inputs to SessionCreate (spec §6.2
// session.create).
type SessionCreateParams struct {
	WorkingDirectory string
	InitialModel     string
	// Title is accepted for RPC-shape compatibility but not persisted:
	// spec.md §3.3 lists no title attribute on Session.
	Title string
}

// SessionCreate creates a new session anchored at a session.start event.
func (d *Dispatcher) SessionCreate(ctx context.Context, p SessionCreateParams) (*store.Session, error) {
	if p.WorkingDirectory == "" {
		return nil, newError(CodeInvalidParams, "workingDirectory is required")
	}
	model := p.InitialModel
	if model == "" {
		model = contextmgrDefaultModel
	}
	sess, _, err := d.store.CreateSession(ctx, store.CreateSessionParams{
		WorkspacePath: p.WorkingDirectory, WorkingDirectory: p.WorkingDirectory, Model: model,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return sess, nil
}

// contextmgrDefaultModel is used when session.create omits initialModel.
const contextmgrDefaultModel = "claude-sonnet-4"

// SessionResumeParams are the inputs to SessionResume (spec §6.2
// session.resume).
type SessionResumeParams struct {
	SessionID ids.SessionID
}

// SessionResumeResult is the projected view handed back on resume.
type SessionResumeResult struct {
	Session        store.Session
	Messages       []projection.Message
	TokenUsage     eventlog.TokenUsage
	Model          string
	ReasoningLevel string
}

// SessionResume rebuilds a session's current state by folding its ancestor
// chain and also activates it (spec §4.2/§4.5: resuming a session must be
// ready to accept turn.start immediately afterward).
func (d *Dispatcher) SessionResume(ctx context.Context, p SessionResumeParams) (*SessionResumeResult, error) {
	if p.SessionID == "" {
		return nil, newError(CodeInvalidParams, "sessionId is required")
	}
	sess, err := d.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	ancestors, err := d.store.GetAncestors(ctx, sess.HeadEventID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	state := projection.Fold(ancestors)

	if _, err := d.activate(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return &SessionResumeResult{
		Session: sess, Messages: state.Messages, TokenUsage: state.TokenUsage,
		Model: state.Model, ReasoningLevel: state.ReasoningLevel,
	}, nil
}

// SessionListParams filter SessionList (spec §6.2 session.list).
type SessionListParams struct {
	WorkspaceID *ids.WorkspaceID
	IsActive    *bool
	Limit       int
	Offset      int
}

// SessionList returns sessions most-recently-active first.
func (d *Dispatcher) SessionList(ctx context.Context, p SessionListParams) ([]store.Session, error) {
	sessions, err := d.store.ListSessions(ctx, store.ListSessionsParams{
		WorkspaceID: p.WorkspaceID, IsActive: p.IsActive, Limit: p.Limit, Offset: p.Offset,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return sessions, nil
}

// SessionDeleteParams are the inputs to SessionDelete (spec §6.2
// session.delete).
type SessionDeleteParams struct {
	SessionID ids.SessionID
}

// SessionDelete soft-deletes a session: it appends session.end with reason
// aborted and never removes events (spec §6.2 session.delete; Open
// Question #3 in DESIGN.md).
func (d *Dispatcher) SessionDelete(ctx context.Context, p SessionDeleteParams) error {
	if p.SessionID == "" {
		return newError(CodeInvalidParams, "sessionId is required")
	}
	if _, err := d.store.EndSession(ctx, p.SessionID, eventlog.EndAborted); err != nil {
		return translateStoreError(err)
	}
	d.drop(p.SessionID)
	return nil
}

// SessionForkParams are the inputs to SessionFork (spec §6.2 session.fork).
type SessionForkParams struct {
	SessionID   ids.SessionID
	FromEventID ids.EventID // optional; defaults to the session's current head
	Name        string
}

// SessionFork branches a new session from an existing event, inheriting
// the ancestor chain up to that point.
func (d *Dispatcher) SessionFork(ctx context.Context, p SessionForkParams) (*store.Session, error) {
	if p.SessionID == "" {
		return nil, newError(CodeInvalidParams, "sessionId is required")
	}
	fromEventID := p.FromEventID
	if fromEventID == "" {
		sess, err := d.store.GetSession(ctx, p.SessionID)
		if err != nil {
			return nil, translateStoreError(err)
		}
		fromEventID = sess.HeadEventID
	}
	forked, _, err := d.store.Fork(ctx, fromEventID, p.Name)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return forked, nil
}
