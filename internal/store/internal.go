package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (eventlog.Event, error) {
	var (
		id, sessionID, workspaceID, typ string
		parentID                        sql.NullString
		seq                             int
		createdAt                       time.Time
		rawPayload                      []byte
	)
	if err := row.Scan(&id, &sessionID, &workspaceID, &parentID, &typ, &seq, &createdAt, &rawPayload); err != nil {
		return eventlog.Event{}, err
	}
	ev := eventlog.Event{
		ID:          ids.EventID(id),
		SessionID:   ids.SessionID(sessionID),
		WorkspaceID: ids.WorkspaceID(workspaceID),
		Type:        eventlog.Type(typ),
		Sequence:    seq,
		Timestamp:   createdAt,
		Payload:     eventlog.DecodePayload(eventlog.Type(typ), rawPayload),
	}
	if parentID.Valid {
		pid := ids.EventID(parentID.String)
		ev.ParentID = &pid
	}
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]eventlog.Event, error) {
	var out []eventlog.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (Session, error) {
	var (
		id, workspaceID, rootEventID, headEventID, model, reasoningLevel string
		parentSessionID, forkFromEventID                                sql.NullString
		createdAt, lastActivityAt                                       time.Time
		ended                                                           bool
		endedAt                                                        sql.NullTime
		eventCount, messageCount                                        int
		inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int64
	)
	if err := row.Scan(&id, &workspaceID, &rootEventID, &headEventID, &parentSessionID, &forkFromEventID,
		&model, &reasoningLevel, &createdAt, &lastActivityAt, &ended, &endedAt,
		&eventCount, &messageCount, &inputTokens, &outputTokens, &cacheReadTokens, &cacheCreationTokens); err != nil {
		return Session{}, err
	}
	sess := Session{
		ID: ids.SessionID(id), WorkspaceID: ids.WorkspaceID(workspaceID),
		RootEventID: ids.EventID(rootEventID), HeadEventID: ids.EventID(headEventID),
		Model: model, ReasoningLevel: reasoningLevel,
		CreatedAt: createdAt, LastActivityAt: lastActivityAt, Ended: ended,
		EventCount: eventCount, MessageCount: messageCount,
		InputTokens: inputTokens, OutputTokens: outputTokens,
		CacheReadTokens: cacheReadTokens, CacheCreationTokens: cacheCreationTokens,
	}
	if parentSessionID.Valid {
		psid := ids.SessionID(parentSessionID.String)
		sess.ParentSessionID = &psid
	}
	if forkFromEventID.Valid {
		feid := ids.EventID(forkFromEventID.String)
		sess.ForkFromEventID = &feid
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return sess, nil
}

// withSessionLock runs fn inside a transaction holding a per-session
// Postgres advisory lock for the lifetime of the transaction, generalizing
// the append critical section of spec §4.1/§5 (SPEC_FULL.md §3).
func (s *Store) withSessionLock(ctx context.Context, sessionID ids.SessionID, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, string(sessionID)); err != nil {
		return fmt.Errorf("acquiring session lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) querySessionTx(ctx context.Context, tx *sql.Tx, sessionID ids.SessionID) (Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, workspace_id, root_event_id, head_event_id, parent_session_id, fork_from_event_id,
		model, reasoning_level, created_at, last_activity_at, ended, ended_at,
		event_count, message_count, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		FROM sessions WHERE id = $1 FOR UPDATE`, string(sessionID))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}
	return sess, nil
}

func (s *Store) queryEventSequenceTx(ctx context.Context, tx *sql.Tx, eventID ids.EventID) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT sequence FROM events WHERE id = $1`, string(eventID)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrEventNotFound
	}
	return seq, err
}

func (s *Store) insertEventTx(ctx context.Context, tx *sql.Tx, sessionID ids.SessionID, workspaceID ids.WorkspaceID, parentID *ids.EventID, typ eventlog.Type, seq int, payload eventlog.Payload) (eventlog.Event, error) {
	raw, err := eventlog.EncodePayload(payload)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("encoding payload: %w", err)
	}
	evID := ids.NewEventID()
	now := time.Now().UTC()
	var parentArg any
	if parentID != nil {
		parentArg = string(*parentID)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events (id, session_id, workspace_id, parent_id, type, sequence, created_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		string(evID), string(sessionID), string(workspaceID), parentArg, string(typ), seq, now, raw)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("inserting event: %w", err)
	}
	return eventlog.Event{
		ID: evID, SessionID: sessionID, WorkspaceID: workspaceID, ParentID: parentID,
		Type: typ, Sequence: seq, Timestamp: now, Payload: payload,
	}, nil
}

// applyHeadAndCountersTx advances the session head to the last of newEvents
// and updates the cached counters of spec §3.3 — event_count always,
// message_count/token totals/model/reasoning_level only for the payload
// kinds that affect them. Counters are updated in the same transaction as
// the append, per spec §4.1.
func (s *Store) applyHeadAndCountersTx(ctx context.Context, tx *sql.Tx, sessionID ids.SessionID, workspaceID ids.WorkspaceID, newEvents []eventlog.Event) error {
	if len(newEvents) == 0 {
		return nil
	}
	last := newEvents[len(newEvents)-1]
	now := time.Now().UTC()

	var messageDelta int
	var usage eventlog.TokenUsage
	var modelUpdate, reasoningUpdate *string

	for _, ev := range newEvents {
		switch p := ev.Payload.(type) {
		case eventlog.MessageUserPayload:
			messageDelta++
		case eventlog.MessageAssistantPayload:
			messageDelta++
			usage = usage.Add(p.Usage)
			model := p.Model
			modelUpdate = &model
		case eventlog.ConfigModelSwitchPayload:
			model := p.NewModel
			modelUpdate = &model
		case eventlog.ConfigReasoningLevelPayload:
			level := p.NewLevel
			reasoningUpdate = &level
		}
	}

	query := `UPDATE sessions SET head_event_id=$1, last_activity_at=$2, event_count = event_count + $3,
		message_count = message_count + $4, input_tokens = input_tokens + $5, output_tokens = output_tokens + $6,
		cache_read_tokens = cache_read_tokens + $7, cache_creation_tokens = cache_creation_tokens + $8`
	args := []any{string(last.ID), now, len(newEvents), messageDelta, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheCreationTokens}
	if modelUpdate != nil {
		args = append(args, *modelUpdate)
		query += fmt.Sprintf(", model = $%d", len(args))
	}
	if reasoningUpdate != nil {
		args = append(args, *reasoningUpdate)
		query += fmt.Sprintf(", reasoning_level = $%d", len(args))
	}
	args = append(args, string(sessionID))
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating session counters: %w", err)
	}
	return s.touchWorkspaceTx(ctx, tx, workspaceID, now)
}

func (s *Store) findOrCreateWorkspaceTx(ctx context.Context, tx *sql.Tx, path string) (ids.WorkspaceID, error) {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = $1`, path).Scan(&existing)
	if err == nil {
		return ids.WorkspaceID(existing), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up workspace: %w", err)
	}

	wsID := ids.NewWorkspaceID()
	now := time.Now().UTC()
	displayName := filepath.Base(path)
	_, err = tx.ExecContext(ctx, `INSERT INTO workspaces (id, path, display_name, created_at, last_activity_at) VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (path) DO NOTHING`, string(wsID), path, displayName, now)
	if err != nil {
		return "", fmt.Errorf("inserting workspace: %w", err)
	}
	// Another concurrent creator may have won the race; re-read to be sure.
	if err := tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = $1`, path).Scan(&existing); err != nil {
		return "", fmt.Errorf("reading workspace after insert: %w", err)
	}
	return ids.WorkspaceID(existing), nil
}

func (s *Store) touchWorkspaceTx(ctx context.Context, tx *sql.Tx, workspaceID ids.WorkspaceID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE workspaces SET last_activity_at = $1 WHERE id = $2`, at, string(workspaceID))
	if err != nil {
		return fmt.Errorf("touching workspace: %w", err)
	}
	return nil
}

// sessionCounters is the subset of cached Session fields computed by
// replaying an ancestor chain, used to initialise a forked session (spec
// §4.1 fork, §4.2).
type sessionCounters struct {
	model          string
	reasoningLevel string
	eventCount     int
	messageCount   int
	usage          eventlog.TokenUsage
}

// foldCounters replays ancestors to compute the scalar counters a forked
// session starts with. It deliberately does not build the full canonical
// message list (that is internal/projection's job) — only the cached
// summary statistics spec §3.3 describes as an optimisation.
func foldCounters(ancestors []eventlog.Event) sessionCounters {
	c := sessionCounters{reasoningLevel: "medium"}
	deleted := make(map[string]bool)
	for _, ev := range ancestors {
		c.eventCount++
		switch p := ev.Payload.(type) {
		case eventlog.SessionStartPayload:
			c.model = p.InitialModel
		case eventlog.ConfigModelSwitchPayload:
			c.model = p.NewModel
		case eventlog.ConfigReasoningLevelPayload:
			c.reasoningLevel = p.NewLevel
		case eventlog.MessageDeletedPayload:
			deleted[p.TargetEventID] = true
		case eventlog.MessageAssistantPayload:
			c.usage = c.usage.Add(p.Usage)
		}
	}
	for _, ev := range ancestors {
		switch ev.Type {
		case eventlog.TypeMessageUser, eventlog.TypeMessageAssistant:
			if !deleted[string(ev.ID)] {
				c.messageCount++
			}
		}
	}
	return c
}
