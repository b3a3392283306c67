package store

import (
	"errors"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// Sentinel errors for control-flow conditions the caller is expected to
// check with errors.Is, matching tarsy's pkg/queue/types.go convention.
var (
	ErrSessionNotFound   = errors.New("store: session not found")
	ErrWorkspaceNotFound = errors.New("store: workspace not found")
	ErrEventNotFound     = errors.New("store: event not found")
	ErrParentNotFound    = errors.New("store: parent event not found")
	ErrSessionEnded      = errors.New("store: session has ended")
	ErrInvalidDeleteTarget = errors.New("store: event type cannot be deleted")
)

// Workspace represents a filesystem working directory where sessions occur
// (spec §3.2).
type Workspace struct {
	ID             ids.WorkspaceID
	Path           string
	DisplayName    string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Session represents one conversation event chain (spec §3.3).
type Session struct {
	ID               ids.SessionID
	WorkspaceID      ids.WorkspaceID
	RootEventID      ids.EventID
	HeadEventID      ids.EventID
	ParentSessionID  *ids.SessionID
	ForkFromEventID  *ids.EventID
	Model            string
	ReasoningLevel   string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	Ended            bool
	EndedAt          *time.Time

	// Cached counters. Optimisation only — projection never trusts these
	// as ground truth (spec §3.3).
	EventCount          int
	MessageCount        int
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// CreateSessionParams are the inputs to Store.CreateSession.
type CreateSessionParams struct {
	WorkspacePath    string
	WorkingDirectory string
	Model            string
}

// AppendParams are the inputs to Store.Append.
type AppendParams struct {
	SessionID ids.SessionID
	Type      eventlog.Type
	Payload   eventlog.Payload
	ParentID  *ids.EventID // defaults to the session's current head
}

// ListSessionsParams filters Store.ListSessions.
type ListSessionsParams struct {
	WorkspaceID *ids.WorkspaceID
	IsActive    *bool
	Limit       int
	Offset      int
}

// SearchParams filters Store.Search.
type SearchParams struct {
	Query       string
	WorkspaceID *ids.WorkspaceID
	SessionID   *ids.SessionID
	Types       []eventlog.Type
	Limit       int
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	Event   eventlog.Event
	Snippet string
	Rank    float64
}
