package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// AppendItem is one element of an AppendMultiple call.
type AppendItem struct {
	Type    eventlog.Type
	Payload eventlog.Payload
}

// CreateSession finds or creates the workspace at params.WorkspacePath and
// inserts a new session anchored at a session.start event, all in one
// transaction (spec §4.1 createSession).
func (s *Store) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, eventlog.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eventlog.Event{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	wsID, err := s.findOrCreateWorkspaceTx(ctx, tx, p.WorkspacePath)
	if err != nil {
		return nil, eventlog.Event{}, err
	}

	sessID := ids.NewSessionID()
	now := time.Now().UTC()

	payload := eventlog.SessionStartPayload{
		WorkspacePath:    p.WorkspacePath,
		WorkingDirectory: p.WorkingDirectory,
		InitialModel:     p.Model,
	}
	ev, err := s.insertEventTx(ctx, tx, sessID, wsID, nil, eventlog.TypeSessionStart, 0, payload)
	if err != nil {
		return nil, eventlog.Event{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, root_event_id, head_event_id, model, reasoning_level, created_at, last_activity_at, event_count)
		VALUES ($1, $2, $3, $3, $4, 'medium', $5, $5, 1)`,
		string(sessID), string(wsID), string(ev.ID), p.Model, now)
	if err != nil {
		return nil, eventlog.Event{}, fmt.Errorf("inserting session: %w", err)
	}

	if err := s.touchWorkspaceTx(ctx, tx, wsID, now); err != nil {
		return nil, eventlog.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eventlog.Event{}, fmt.Errorf("committing session creation: %w", err)
	}

	sess := &Session{
		ID: sessID, WorkspaceID: wsID, RootEventID: ev.ID, HeadEventID: ev.ID,
		Model: p.Model, ReasoningLevel: "medium", CreatedAt: now, LastActivityAt: now,
		EventCount: 1,
	}
	return sess, ev, nil
}

// Append inserts one event at the session's current head (or an explicit
// override parent), advances the head, and updates cached counters (spec
// §4.1 append). The whole operation is wrapped in the per-session advisory
// lock described in SPEC_FULL.md §3.
func (s *Store) Append(ctx context.Context, p AppendParams) (eventlog.Event, error) {
	var result eventlog.Event
	err := s.withSessionLock(ctx, p.SessionID, func(tx *sql.Tx) error {
		sess, err := s.querySessionTx(ctx, tx, p.SessionID)
		if err != nil {
			return err
		}
		if sess.Ended {
			return ErrSessionEnded
		}

		headSeq, err := s.queryEventSequenceTx(ctx, tx, sess.HeadEventID)
		if err != nil {
			return fmt.Errorf("reading head sequence: %w", err)
		}

		parentID := sess.HeadEventID
		if p.ParentID != nil {
			if _, err := s.queryEventSequenceTx(ctx, tx, *p.ParentID); err != nil {
				return ErrParentNotFound
			}
			parentID = *p.ParentID
		}

		ev, err := s.insertEventTx(ctx, tx, p.SessionID, sess.WorkspaceID, &parentID, p.Type, headSeq+1, p.Payload)
		if err != nil {
			return err
		}
		if err := s.applyHeadAndCountersTx(ctx, tx, p.SessionID, sess.WorkspaceID, []eventlog.Event{ev}); err != nil {
			return err
		}
		result = ev
		return nil
	})
	return result, err
}

// AppendMultiple atomically appends a chain of events where item n+1's
// parent is item n, updating the head and counters once at the end (spec
// §4.1 appendMultiple).
func (s *Store) AppendMultiple(ctx context.Context, sessionID ids.SessionID, items []AppendItem) ([]eventlog.Event, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var results []eventlog.Event
	err := s.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		sess, err := s.querySessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Ended {
			return ErrSessionEnded
		}
		headSeq, err := s.queryEventSequenceTx(ctx, tx, sess.HeadEventID)
		if err != nil {
			return fmt.Errorf("reading head sequence: %w", err)
		}

		parentID := sess.HeadEventID
		seq := headSeq
		results = make([]eventlog.Event, 0, len(items))
		for _, item := range items {
			seq++
			p := parentID
			ev, err := s.insertEventTx(ctx, tx, sessionID, sess.WorkspaceID, &p, item.Type, seq, item.Payload)
			if err != nil {
				return err
			}
			results = append(results, ev)
			parentID = ev.ID
		}
		return s.applyHeadAndCountersTx(ctx, tx, sessionID, sess.WorkspaceID, results)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetSession returns session metadata, including its current head event
// id, without taking the per-session advisory lock — a plain read, not
// part of the append critical section.
func (s *Store) GetSession(ctx context.Context, sessionID ids.SessionID) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workspace_id, root_event_id, head_event_id, parent_session_id, fork_from_event_id,
		model, reasoning_level, created_at, last_activity_at, ended, ended_at,
		event_count, message_count, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		FROM sessions WHERE id = $1`, string(sessionID))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}
	return sess, nil
}

// GetEvent returns one event by id, or nil if it does not exist.
func (s *Store) GetEvent(ctx context.Context, eventID ids.EventID) (*eventlog.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, workspace_id, parent_id, type, sequence, created_at, payload FROM events WHERE id = $1`, string(eventID))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEventsBySession returns every event owned by sessionID in ascending
// sequence order (spec §4.1 getEventsBySession).
func (s *Store) GetEventsBySession(ctx context.Context, sessionID ids.SessionID) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, workspace_id, parent_id, type, sequence, created_at, payload FROM events WHERE session_id = $1 ORDER BY sequence ASC`, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsSince returns events owned by sessionID with sequence greater
// than sinceID's sequence (or from the start of the session if sinceID is
// empty), up to limit events, in ascending sequence order. It backs the
// notification bus's catchup mechanism (spec §4.7).
func (s *Store) GetEventsSince(ctx context.Context, sessionID ids.SessionID, sinceID ids.EventID, limit int) ([]eventlog.Event, error) {
	sinceSeq := -1
	if sinceID != "" {
		ev, err := s.GetEvent(ctx, sinceID)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, ErrEventNotFound
		}
		sinceSeq = ev.Sequence
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, workspace_id, parent_id, type, sequence, created_at, payload FROM events WHERE session_id = $1 AND sequence > $2 ORDER BY sequence ASC LIMIT $3`, string(sessionID), sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetAncestors walks parent links from eventID back to the root
// session.start, across fork boundaries, and returns them root-first
// including eventID itself (spec §4.1 getAncestors).
func (s *Store) GetAncestors(ctx context.Context, eventID ids.EventID) ([]eventlog.Event, error) {
	var chain []eventlog.Event
	cur := &eventID
	for cur != nil {
		ev, err := s.GetEvent(ctx, *cur)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, ErrEventNotFound
		}
		chain = append(chain, *ev)
		cur = ev.ParentID
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// GetChildren returns events whose parent is eventID, in sequence order
// (spec §4.1 getChildren).
func (s *Store) GetChildren(ctx context.Context, eventID ids.EventID) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, workspace_id, parent_id, type, sequence, created_at, payload FROM events WHERE parent_id = $1 ORDER BY sequence ASC`, string(eventID))
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Fork creates a new session whose parent_session_id is the owning session
// of forkPointEventID, anchored at a session.fork event that carries
// forkPointEventID as its parent. The new session's cached model,
// reasoning level, and counters are initialised by replaying the inherited
// ancestor chain (spec §4.1 fork).
func (s *Store) Fork(ctx context.Context, forkPointEventID ids.EventID, name string) (*Session, eventlog.Event, error) {
	forkPoint, err := s.GetEvent(ctx, forkPointEventID)
	if err != nil {
		return nil, eventlog.Event{}, err
	}
	if forkPoint == nil {
		return nil, eventlog.Event{}, ErrEventNotFound
	}
	parentSessionID := forkPoint.SessionID

	ancestors, err := s.GetAncestors(ctx, forkPointEventID)
	if err != nil {
		return nil, eventlog.Event{}, err
	}
	counters := foldCounters(ancestors)

	newSessionID := ids.NewSessionID()
	now := time.Now().UTC()

	var result *Session
	var forkEvent eventlog.Event
	err = s.withSessionLock(ctx, newSessionID, func(tx *sql.Tx) error {
		ev, err := s.insertEventTx(ctx, tx, newSessionID, forkPoint.WorkspaceID, &forkPointEventID, eventlog.TypeSessionFork,
			0, eventlog.SessionForkPayload{ParentSessionID: string(parentSessionID), ForkFromEventID: string(forkPointEventID), Name: name})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, workspace_id, root_event_id, head_event_id, parent_session_id, fork_from_event_id,
				model, reasoning_level, created_at, last_activity_at, event_count, message_count,
				input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens)
			VALUES ($1,$2,$3,$3,$4,$5,$6,$7,$8,$8,$9,$10,$11,$12,$13,$14)`,
			string(newSessionID), string(forkPoint.WorkspaceID), string(ev.ID), string(parentSessionID), string(forkPointEventID),
			counters.model, counters.reasoningLevel, now, counters.eventCount+1, counters.messageCount,
			counters.usage.InputTokens, counters.usage.OutputTokens, counters.usage.CacheReadTokens, counters.usage.CacheCreationTokens)
		if err != nil {
			return fmt.Errorf("inserting forked session: %w", err)
		}
		forkEvent = ev
		result = &Session{
			ID: newSessionID, WorkspaceID: forkPoint.WorkspaceID, RootEventID: ev.ID, HeadEventID: ev.ID,
			ParentSessionID: &parentSessionID, ForkFromEventID: &forkPointEventID,
			Model: counters.model, ReasoningLevel: counters.reasoningLevel,
			CreatedAt: now, LastActivityAt: now,
			EventCount: counters.eventCount + 1, MessageCount: counters.messageCount,
			InputTokens: counters.usage.InputTokens, OutputTokens: counters.usage.OutputTokens,
			CacheReadTokens: counters.usage.CacheReadTokens, CacheCreationTokens: counters.usage.CacheCreationTokens,
		}
		return nil
	})
	if err != nil {
		return nil, eventlog.Event{}, err
	}
	return result, forkEvent, nil
}

// DeleteMessage appends a message.deleted event referencing targetEventID.
// Rejects targets that are not message.user, message.assistant, or
// tool.result. Idempotent: deleting an already-deleted message succeeds
// again with the same observable projection (spec §4.1 deleteMessage).
func (s *Store) DeleteMessage(ctx context.Context, sessionID ids.SessionID, targetEventID ids.EventID) (eventlog.Event, error) {
	target, err := s.GetEvent(ctx, targetEventID)
	if err != nil {
		return eventlog.Event{}, err
	}
	if target == nil {
		return eventlog.Event{}, ErrEventNotFound
	}
	switch target.Type {
	case eventlog.TypeMessageUser, eventlog.TypeMessageAssistant, eventlog.TypeToolResult:
	default:
		return eventlog.Event{}, ErrInvalidDeleteTarget
	}
	return s.Append(ctx, AppendParams{
		SessionID: sessionID,
		Type:      eventlog.TypeMessageDeleted,
		Payload:   eventlog.MessageDeletedPayload{TargetEventID: string(targetEventID), TargetType: target.Type},
	})
}

// EndSession appends a session.end event and flips the session's end flag
// (spec §4.1 endSession).
func (s *Store) EndSession(ctx context.Context, sessionID ids.SessionID, reason eventlog.EndReason) (eventlog.Event, error) {
	var ev eventlog.Event
	err := s.withSessionLock(ctx, sessionID, func(tx *sql.Tx) error {
		sess, err := s.querySessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Ended {
			return ErrSessionEnded
		}
		headSeq, err := s.queryEventSequenceTx(ctx, tx, sess.HeadEventID)
		if err != nil {
			return err
		}
		e, err := s.insertEventTx(ctx, tx, sessionID, sess.WorkspaceID, &sess.HeadEventID, eventlog.TypeSessionEnd, headSeq+1, eventlog.SessionEndPayload{Reason: reason})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET head_event_id=$1, last_activity_at=$2, event_count=event_count+1, ended=true, ended_at=$2 WHERE id=$3`,
			string(e.ID), now, string(sessionID))
		if err != nil {
			return fmt.Errorf("updating session end flag: %w", err)
		}
		ev = e
		return nil
	})
	return ev, err
}

// ListSessions returns sessions ordered by last-activity descending (spec
// §4.1 listSessions).
func (s *Store) ListSessions(ctx context.Context, p ListSessionsParams) ([]Session, error) {
	query := `SELECT id, workspace_id, root_event_id, head_event_id, parent_session_id, fork_from_event_id,
		model, reasoning_level, created_at, last_activity_at, ended, ended_at,
		event_count, message_count, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		FROM sessions WHERE 1=1`
	var args []any
	if p.WorkspaceID != nil {
		args = append(args, string(*p.WorkspaceID))
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if p.IsActive != nil {
		args = append(args, !*p.IsActive)
		query += fmt.Sprintf(" AND ended = $%d", len(args))
	}
	query += " ORDER BY last_activity_at DESC"
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if p.Offset > 0 {
		args = append(args, p.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Search runs a full-text query over events.event_text (spec §4.1 search).
func (s *Store) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	query := `SELECT e.id, e.session_id, e.workspace_id, e.parent_id, e.type, e.sequence, e.created_at, e.payload,
		ts_rank(e.event_text, plainto_tsquery('english', $1)) AS rank,
		ts_headline('english', extract_event_text(e.type, e.payload), plainto_tsquery('english', $1)) AS snippet
		FROM events e WHERE e.event_text @@ plainto_tsquery('english', $1)`
	args := []any{p.Query}
	if p.WorkspaceID != nil {
		args = append(args, string(*p.WorkspaceID))
		query += fmt.Sprintf(" AND e.workspace_id = $%d", len(args))
	}
	if p.SessionID != nil {
		args = append(args, string(*p.SessionID))
		query += fmt.Sprintf(" AND e.session_id = $%d", len(args))
	}
	if len(p.Types) > 0 {
		placeholders := make([]string, len(p.Types))
		for i, t := range p.Types {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND e.type IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY rank DESC"
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			id, sessionID, workspaceID, typ string
			parentID                        sql.NullString
			seq                             int
			createdAt                       time.Time
			rawPayload                      []byte
			rank                            float64
			snippet                         string
		)
		if err := rows.Scan(&id, &sessionID, &workspaceID, &parentID, &typ, &seq, &createdAt, &rawPayload, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		ev := eventlog.Event{
			ID: ids.EventID(id), SessionID: ids.SessionID(sessionID), WorkspaceID: ids.WorkspaceID(workspaceID),
			Type: eventlog.Type(typ), Sequence: seq, Timestamp: createdAt,
			Payload: eventlog.DecodePayload(eventlog.Type(typ), rawPayload),
		}
		if parentID.Valid {
			pid := ids.EventID(parentID.String)
			ev.ParentID = &pid
		}
		out = append(out, SearchResult{Event: ev, Snippet: snippet, Rank: rank})
	}
	return out, rows.Err()
}

// RebuildSessionIndex re-derives the full-text index for every event owned
// by sessionID, for use after a recovery where the trigger-maintained
// column is suspected stale (spec §4.1 rebuildSessionIndex).
func (s *Store) RebuildSessionIndex(ctx context.Context, sessionID ids.SessionID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET event_text = to_tsvector('english', coalesce(extract_event_text(type, payload), ''))
		WHERE session_id = $1`, string(sessionID))
	if err != nil {
		return fmt.Errorf("rebuilding session index: %w", err)
	}
	return nil
}
