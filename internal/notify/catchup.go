package notify

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// CatchupLimit bounds how many events a single catchup query returns. If a
// session has missed more than CatchupLimit events, CatchupResult.Overflow
// tells the caller to fall back to a full history reload instead of
// paging, mirroring tarsy's manager.go catchupLimit.
const CatchupLimit = 200

// CatchupQuerier abstracts the event query a session store must provide for
// catchup. Satisfied by *store.Store.
type CatchupQuerier interface {
	GetEventsSince(ctx context.Context, sessionID ids.SessionID, sinceID ids.EventID, limit int) ([]eventlog.Event, error)
}

// CatchupResult is the outcome of a single catchup query.
type CatchupResult struct {
	Events   []eventlog.Event
	Overflow bool
}

// Catchup returns the events a subscriber missed between sinceID (exclusive,
// or session start if empty) and the time of the call, per spec §4.7:
// "Subscription set-up returns the current head id so the subscriber can
// page missing history before switching to live." Callers typically call
// SubscribeHeadID first to register a Subscription (which starts buffering
// live messages) and obtain the head id, then call Catchup with the subscriber's last-seen id to
// backfill the gap, before switching over to reading live Messages().
func Catchup(ctx context.Context, q CatchupQuerier, sessionID ids.SessionID, sinceID ids.EventID) (CatchupResult, error) {
	events, err := q.GetEventsSince(ctx, sessionID, sinceID, CatchupLimit+1)
	if err != nil {
		return CatchupResult{}, err
	}
	if len(events) > CatchupLimit {
		return CatchupResult{Events: events[:CatchupLimit], Overflow: true}, nil
	}
	return CatchupResult{Events: events}, nil
}
