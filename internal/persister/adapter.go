package persister

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/store"
)

// StoreAdapter wraps a *store.Store so it satisfies Appender. The persister
// package stays free of an internal/store import in its core logic (kept
// fake-able for tests); this is the one file that bridges the two.
type StoreAdapter struct {
	Store *store.Store
}

func (a StoreAdapter) Append(ctx context.Context, p AppendParams) (eventlog.Event, error) {
	return a.Store.Append(ctx, store.AppendParams{
		SessionID: p.SessionID, Type: p.Type, Payload: p.Payload, ParentID: p.ParentID,
	})
}

func (a StoreAdapter) AppendMultiple(ctx context.Context, sessionID ids.SessionID, items []AppendItem) ([]eventlog.Event, error) {
	storeItems := make([]store.AppendItem, len(items))
	for i, it := range items {
		storeItems[i] = store.AppendItem{Type: it.Type, Payload: it.Payload}
	}
	return a.Store.AppendMultiple(ctx, sessionID, storeItems)
}
