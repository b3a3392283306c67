package main

import (
	"encoding/json"
	"net/http"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/rpcapi"
	"github.com/gin-gonic/gin"
)

// registerRoutes wires a thin, non-authenticating REST shim over the
// Dispatcher's RPC methods (SPEC_FULL.md §10), for local manual testing
// only — the real client is the (out-of-scope) authenticating WebSocket
// gateway. Each handler does nothing but bind a request body and
// translate a *rpcapi.Error to an HTTP status; no business logic lives
// here, matching tarsy's pkg/api/handlers.go CreateAlert shape.
func registerRoutes(r *gin.Engine, d *rpcapi.Dispatcher) {
	api := r.Group("/api")

	api.POST("/sessions", func(c *gin.Context) {
		var req struct {
			WorkingDirectory string `json:"workingDirectory" binding:"required"`
			InitialModel     string `json:"initialModel"`
			Title            string `json:"title"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := d.SessionCreate(c.Request.Context(), rpcapi.SessionCreateParams{
			WorkingDirectory: req.WorkingDirectory, InitialModel: req.InitialModel, Title: req.Title,
		})
		respond(c, sess, err)
	})

	api.GET("/sessions", func(c *gin.Context) {
		sessions, err := d.SessionList(c.Request.Context(), rpcapi.SessionListParams{})
		respond(c, sessions, err)
	})

	api.POST("/sessions/:id/resume", func(c *gin.Context) {
		res, err := d.SessionResume(c.Request.Context(), rpcapi.SessionResumeParams{
			SessionID: ids.SessionID(c.Param("id")),
		})
		respond(c, res, err)
	})

	api.DELETE("/sessions/:id", func(c *gin.Context) {
		err := d.SessionDelete(c.Request.Context(), rpcapi.SessionDeleteParams{
			SessionID: ids.SessionID(c.Param("id")),
		})
		respond(c, gin.H{"deleted": err == nil}, err)
	})

	api.POST("/sessions/:id/fork", func(c *gin.Context) {
		var req struct {
			FromEventID string `json:"fromEventId"`
			Name        string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		forked, err := d.SessionFork(c.Request.Context(), rpcapi.SessionForkParams{
			SessionID: ids.SessionID(c.Param("id")), FromEventID: ids.EventID(req.FromEventID), Name: req.Name,
		})
		respond(c, forked, err)
	})

	api.POST("/sessions/:id/turns", func(c *gin.Context) {
		var req struct {
			Content []eventlog.ContentBlock `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := d.TurnStart(c.Request.Context(), rpcapi.TurnStartParams{
			SessionID: ids.SessionID(c.Param("id")), Content: req.Content,
		})
		respond(c, gin.H{"accepted": err == nil}, err)
	})

	api.POST("/sessions/:id/turns/cancel", func(c *gin.Context) {
		err := d.TurnCancel(c.Request.Context(), rpcapi.TurnCancelParams{
			SessionID: ids.SessionID(c.Param("id")),
		})
		respond(c, gin.H{"cancelled": err == nil}, err)
	})

	api.GET("/sessions/:id/events", func(c *gin.Context) {
		events, err := d.EventsGetHistory(c.Request.Context(), rpcapi.EventsGetHistoryParams{
			SessionID: ids.SessionID(c.Param("id")),
		})
		respond(c, events, err)
	})

	api.POST("/sessions/:id/events", func(c *gin.Context) {
		var req struct {
			Type    eventlog.Type `json:"type" binding:"required"`
			Payload gin.H         `json:"payload"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw, err := marshalPayload(req.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ev, appendErr := d.EventsAppend(c.Request.Context(), rpcapi.EventsAppendParams{
			SessionID: ids.SessionID(c.Param("id")), Type: req.Type, Payload: raw,
		})
		respond(c, ev, appendErr)
	})

	api.DELETE("/sessions/:id/messages/:eventId", func(c *gin.Context) {
		ev, err := d.MessagesDelete(c.Request.Context(), rpcapi.MessagesDeleteParams{
			SessionID: ids.SessionID(c.Param("id")), EventID: ids.EventID(c.Param("eventId")),
		})
		respond(c, ev, err)
	})

	api.GET("/events/:eventId/state", func(c *gin.Context) {
		state, err := d.EventsGetStateAt(c.Request.Context(), rpcapi.EventsGetStateAtParams{
			EventID: ids.EventID(c.Param("eventId")),
		})
		respond(c, state, err)
	})

	api.GET("/search", func(c *gin.Context) {
		results, err := d.EventsSearch(c.Request.Context(), rpcapi.EventsSearchParams{
			Query: c.Query("q"),
		})
		respond(c, results, err)
	})
}

// marshalPayload re-encodes a bound gin.H map back to JSON so it can be
// handed to EventsAppend's raw-JSON decoder, the same tolerant path
// events.append uses regardless of transport.
func marshalPayload(h gin.H) ([]byte, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

// respond translates a *rpcapi.Error to its HTTP status; any other error is
// a 500. This is the one place REST status codes are decided — the RPC
// layer itself (internal/rpcapi) never returns an HTTP status.
func respond(c *gin.Context, body any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	rpcErr, ok := err.(*rpcapi.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusBadRequest
	switch rpcErr.Code {
	case rpcapi.CodeSessionNotFound, rpcapi.CodeEventNotFound:
		status = http.StatusNotFound
	case rpcapi.CodeSessionEnded:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": rpcErr.Message, "code": rpcErr.Code})
}
