// Package eventlog defines the typed, parent-linked event model that forms
// the directed acyclic session tree: the closed event-type enumeration, the
// payload schema for each type, and content-block/usage value types shared
// across payloads.
//
// Clients (and this package's own decoder) must tolerate unknown event
// types by storing the payload opaquely and skipping the event during
// projection — see DecodePayload.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/conductorhq/sessioncore/internal/ids"
)

// Type is the closed, wire-stable event type enumeration (spec §6.1).
type Type string

const (
	TypeSessionStart Type = "session.start"
	TypeSessionEnd   Type = "session.end"
	TypeSessionFork  Type = "session.fork"

	TypeMessageUser      Type = "message.user"
	TypeMessageAssistant Type = "message.assistant"
	TypeMessageDeleted   Type = "message.deleted"

	TypeToolCall   Type = "tool.call"
	TypeToolResult Type = "tool.result"

	TypeStreamTextDelta        Type = "stream.text_delta"
	TypeStreamThinkingDelta    Type = "stream.thinking_delta"
	TypeStreamThinkingComplete Type = "stream.thinking_complete"
	TypeStreamTurnStart        Type = "stream.turn_start"
	TypeStreamTurnEnd          Type = "stream.turn_end"

	TypeConfigModelSwitch     Type = "config.model_switch"
	TypeConfigReasoningLevel  Type = "config.reasoning_level"

	TypeCompactBoundary Type = "compact.boundary"
	TypeCompactSummary  Type = "compact.summary"

	TypeContextCleared Type = "context.cleared"

	TypeErrorAgent    Type = "error.agent"
	TypeErrorTool     Type = "error.tool"
	TypeErrorProvider Type = "error.provider"

	TypeTurnFailed Type = "turn.failed"

	TypeNotificationInterrupted     Type = "notification.interrupted"
	TypeNotificationSubagentResult Type = "notification.subagent_result"
)

// knownTypes backs IsKnown — forward compatibility requires distinguishing
// "decode failed" from "type not in the closed set".
var knownTypes = map[Type]bool{
	TypeSessionStart: true, TypeSessionEnd: true, TypeSessionFork: true,
	TypeMessageUser: true, TypeMessageAssistant: true, TypeMessageDeleted: true,
	TypeToolCall: true, TypeToolResult: true,
	TypeStreamTextDelta: true, TypeStreamThinkingDelta: true, TypeStreamThinkingComplete: true,
	TypeStreamTurnStart: true, TypeStreamTurnEnd: true,
	TypeConfigModelSwitch: true, TypeConfigReasoningLevel: true,
	TypeCompactBoundary: true, TypeCompactSummary: true,
	TypeContextCleared: true,
	TypeErrorAgent:     true, TypeErrorTool: true, TypeErrorProvider: true,
	TypeTurnFailed:      true,
	TypeNotificationInterrupted: true, TypeNotificationSubagentResult: true,
}

// IsKnown reports whether t is part of the closed event-type enumeration.
func IsKnown(t Type) bool { return knownTypes[t] }

// Role is the role of a projected message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates a ContentBlock's Kind field.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockToolUse BlockKind = "tool_use"
)

// ContentBlock is one block of a message's content array. Only the fields
// relevant to Kind are populated.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Kind: BlockText, Text: text} }

// StopReason is the reason an assistant turn stopped producing content.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// TokenUsage is the token accounting carried by an assistant message.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:         u.InputTokens + o.InputTokens,
		OutputTokens:        u.OutputTokens + o.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens + o.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens + o.CacheCreationTokens,
	}
}

// EndReason is why a session ended (spec §3.5 session.end).
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndAborted   EndReason = "aborted"
	EndError     EndReason = "error"
	EndTimeout   EndReason = "timeout"
)

// Event is one immutable record in the session event log (spec §3.4).
type Event struct {
	ID          ids.EventID
	SessionID   ids.SessionID
	WorkspaceID ids.WorkspaceID
	ParentID    *ids.EventID
	Type        Type
	Sequence    int
	Timestamp   time.Time
	Payload     Payload
}
