package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// wireMessage is the JSON shape sent over the WebSocket wire. It is the
// optional edge encoding for Message, not the bus's internal representation.
type wireMessage struct {
	Type      string      `json:"type"`
	Event     interface{} `json:"event,omitempty"`
	Dropped   int64       `json:"dropped,omitempty"`
	Transient string      `json:"transient,omitempty"`
}

// DefaultWriteTimeout bounds how long a single WebSocket write may block.
const DefaultWriteTimeout = 10 * time.Second

// ServeWebSocket drains subscription's messages onto conn until ctx is
// cancelled. A failed write is logged and the loop goes on with the next
// message, so a closed connection does not by itself end the loop; nor does
// closing the subscription from another goroutine, since Close unregisters
// it without closing its channel. It is an optional edge adapter over Bus.Subscribe, generalized
// from tarsy's ConnectionManager.sendJSON/sendRaw; the bus itself has no
// dependency on WebSocket and can be exercised without one.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, sub *Subscription, writeTimeout time.Duration) {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	defer sub.Close()

	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if dropped := sub.Dropped(); dropped != lastDropped {
				lastDropped = dropped
				writeJSON(ctx, conn, writeTimeout, wireMessage{Type: "dropped", Dropped: dropped})
			}
			writeJSON(ctx, conn, writeTimeout, toWireMessage(msg))
		}
	}
}

func toWireMessage(msg Message) wireMessage {
	if msg.Transient != "" {
		return wireMessage{Type: "transient", Transient: msg.Transient}
	}
	return wireMessage{Type: "event", Event: msg.Event}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, timeout time.Duration, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("notify: failed to marshal WebSocket message", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("notify: failed to write WebSocket message", "error", err)
	}
}

// SubscribeHeadID is a convenience helper pairing Bus.Subscribe with a head
// id lookup for the spec §4.7 "subscription set-up returns the current
// head id" contract, so a transport handler can do both in one call before
// paging history via Catchup.
func SubscribeHeadID(ctx context.Context, bus *Bus, sessionID ids.SessionID, headQuerier HeadQuerier) (*Subscription, ids.EventID, error) {
	// Subscribe first so no event published between the head lookup and
	// subscription registration is missed — the same LISTEN-before-catchup
	// ordering tarsy's subscribe() uses to close that gap.
	sub := bus.Subscribe(sessionID)
	head, err := headQuerier.GetHeadEventID(ctx, sessionID)
	if err != nil {
		sub.Close()
		return nil, "", err
	}
	return sub, head, nil
}

// HeadQuerier returns the current head event id of a session. Satisfied by
// an adapter over *store.Store (via GetSession).
type HeadQuerier interface {
	GetHeadEventID(ctx context.Context, sessionID ids.SessionID) (ids.EventID, error)
}
