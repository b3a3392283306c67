package rpcapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/store"
)

// RecoverOrphanedTurns scans every active session and closes out any whose
// head event is stream.turn_start with nothing after it (a turn still
// mid-flight when the process previously died), appending a synthesized
// turn.failed{code: "orphaned", recoverable: true} so the session accepts
// turn.start again (SPEC_FULL.md §11, generalized from tarsy's
// pkg/queue/orphan.go CleanupStartupOrphans: a one-time startup sweep, run
// before the dispatcher serves any RPC, not a periodic background scan —
// internal/store has no heartbeat column to drive tarsy's periodic variant
// off of, so orphan detection here is purely structural: head type alone).
//
// Called once during startup, before New's Dispatcher is handed to callers.
func (d *Dispatcher) RecoverOrphanedTurns(ctx context.Context) error {
	const pageSize = 100
	recovered := 0
	for offset := 0; ; offset += pageSize {
		isActive := true
		sessions, err := d.store.ListSessions(ctx, store.ListSessionsParams{
			IsActive: &isActive, Limit: pageSize, Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("listing active sessions: %w", err)
		}
		if len(sessions) == 0 {
			break
		}

		for _, sess := range sessions {
			head, err := d.store.GetEvent(ctx, sess.HeadEventID)
			if err != nil {
				return fmt.Errorf("reading head event for session %s: %w", sess.ID, err)
			}
			if head == nil || head.Type != eventlog.TypeStreamTurnStart {
				continue
			}

			turn, _ := head.Payload.(eventlog.StreamTurnStartPayload)
			if _, err := d.appendEvent(ctx, sess.ID, eventlog.TypeTurnFailed, eventlog.TurnFailedPayload{
				Turn:        turn.Turn,
				Error:       "process restarted mid-turn",
				Code:        "orphaned",
				Recoverable: true,
			}); err != nil {
				slog.Error("failed to recover orphaned turn", "session_id", sess.ID, "error", err)
				continue
			}
			recovered++
			slog.Warn("recovered orphaned turn", "session_id", sess.ID, "turn", turn.Turn)
		}

		if len(sessions) < pageSize {
			break
		}
	}
	if recovered > 0 {
		slog.Info("orphaned turn recovery complete", "recovered", recovered)
	}
	return nil
}
