// Package provider defines the streaming contract every concrete LLM
// provider must satisfy (spec §4.6), plus a reference in-memory fake used by
// orchestrator tests. No concrete provider wire client ships here — Gemini,
// Anthropic, and OpenAI clients are explicitly out of scope (spec §1).
//
// Grounded on tarsy's pkg/llm/client.go GenerateStream: a method returning
// (<-chan StreamChunk, <-chan error), populated by a goroutine, cancelled by
// context — generalized from "one gRPC-backed Gemini sidecar" to "any
// provider implementing the Stream contract."
package provider

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
)

// ChunkKind is the tag of a ChunkEvent (spec §4.6).
type ChunkKind string

const (
	ChunkStart        ChunkKind = "start"
	ChunkTextDelta    ChunkKind = "text_delta"
	ChunkThinkingDelta ChunkKind = "thinking_delta"
	ChunkToolCallStart ChunkKind = "toolcall_start"
	ChunkToolCallEnd   ChunkKind = "toolcall_end"
	ChunkDone         ChunkKind = "done"
	ChunkError        ChunkKind = "error"
)

// ToolCall is the normalised shape of a provider tool call (spec §4.6).
type ToolCall struct {
	ID   string
	Name string
	Args []byte
}

// DoneMessage is the normalised terminal payload of a successful stream.
type DoneMessage struct {
	Content    []eventlog.ContentBlock
	Usage      eventlog.TokenUsage
	StopReason eventlog.StopReason
	Model      string
}

// ChunkEvent is one item the provider's stream emits. Exactly one of the
// *-typed fields is populated, selected by Kind.
type ChunkEvent struct {
	Kind ChunkKind

	TextDelta     string
	ThinkingDelta string
	ToolCall      ToolCall
	Done          DoneMessage
	ErrorCode     string
	ErrorMessage  string
}

// Message is one entry of the context a provider streams against.
type Message struct {
	Role    eventlog.Role
	Content []eventlog.ContentBlock
}

// Context is the `{messages, tools?, system?}` shape spec §4.6 describes.
type Context struct {
	Messages []Message
	Tools    []ToolSpec
	System   string
}

// ToolSpec describes one tool available to the provider for this turn.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte
}

// Stream is the contract every concrete provider implements: a finite,
// non-restartable sequence of ChunkEvents, cancelled by dropping the
// subscription (i.e. cancelling ctx). The adapter guarantees the
// provider's underlying connection closes within a bounded time after the
// consumer stops (spec §4.6).
type Stream interface {
	Stream(ctx context.Context, c Context) (<-chan ChunkEvent, <-chan error)
}
