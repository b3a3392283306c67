package notify

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/store"
)

// StoreAdapter bridges a *store.Store to the narrow HeadQuerier and
// CatchupQuerier interfaces this package depends on.
type StoreAdapter struct {
	Store *store.Store
}

func (a StoreAdapter) GetHeadEventID(ctx context.Context, sessionID ids.SessionID) (ids.EventID, error) {
	sess, err := a.Store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.HeadEventID, nil
}

func (a StoreAdapter) GetEventsSince(ctx context.Context, sessionID ids.SessionID, sinceID ids.EventID, limit int) ([]eventlog.Event, error) {
	return a.Store.GetEventsSince(ctx, sessionID, sinceID, limit)
}
