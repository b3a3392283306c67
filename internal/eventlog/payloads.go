package eventlog

import "encoding/json"

// Payload is the typed body of an event. Concrete payload types below each
// implement it as a marker; an UnknownPayload implements it for any type not
// in the closed enumeration (forward compatibility, spec §6.1).
type Payload interface {
	payloadType() Type
}

// SessionStartPayload is the payload of session.start.
type SessionStartPayload struct {
	WorkspacePath    string `json:"workspace_path"`
	WorkingDirectory string `json:"working_directory"`
	InitialModel     string `json:"initial_model"`
}

func (SessionStartPayload) payloadType() Type { return TypeSessionStart }

// SessionForkPayload is the payload of session.fork.
type SessionForkPayload struct {
	ParentSessionID string `json:"parent_session_id"`
	ForkFromEventID string `json:"fork_from_event_id"`
	Name            string `json:"name,omitempty"`
}

func (SessionForkPayload) payloadType() Type { return TypeSessionFork }

// SessionEndPayload is the payload of session.end.
type SessionEndPayload struct {
	Reason EndReason `json:"reason"`
}

func (SessionEndPayload) payloadType() Type { return TypeSessionEnd }

// MessageUserPayload is the payload of message.user.
type MessageUserPayload struct {
	Content []ContentBlock `json:"content"`
	Turn    int            `json:"turn"`
}

func (MessageUserPayload) payloadType() Type { return TypeMessageUser }

// MessageAssistantPayload is the payload of message.assistant.
type MessageAssistantPayload struct {
	Content    []ContentBlock `json:"content"`
	Turn       int            `json:"turn"`
	Usage      TokenUsage     `json:"usage"`
	StopReason StopReason     `json:"stop_reason"`
	Model      string         `json:"model"`
}

func (MessageAssistantPayload) payloadType() Type { return TypeMessageAssistant }

// ToolCallPayload is the payload of tool.call.
type ToolCallPayload struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Arguments  json.RawMessage `json:"arguments"`
}

func (ToolCallPayload) payloadType() Type { return TypeToolCall }

// ToolResultPayload is the payload of tool.result.
type ToolResultPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	Content    []ContentBlock `json:"content"`
	IsError    bool           `json:"is_error"`
}

func (ToolResultPayload) payloadType() Type { return TypeToolResult }

// CompactBoundaryPayload is the payload of compact.boundary.
type CompactBoundaryPayload struct {
	TokensRemoved   int    `json:"tokens_removed"`
	MessagesRemoved int    `json:"messages_removed"`
	TriggerReason   string `json:"trigger_reason"`
}

func (CompactBoundaryPayload) payloadType() Type { return TypeCompactBoundary }

// CompactSummaryPayload is the payload of compact.summary.
type CompactSummaryPayload struct {
	Summary string `json:"summary"`
}

func (CompactSummaryPayload) payloadType() Type { return TypeCompactSummary }

// MessageDeletedPayload is the payload of message.deleted.
type MessageDeletedPayload struct {
	TargetEventID string `json:"target_event_id"`
	TargetType    Type   `json:"target_type"`
}

func (MessageDeletedPayload) payloadType() Type { return TypeMessageDeleted }

// ConfigModelSwitchPayload is the payload of config.model_switch.
type ConfigModelSwitchPayload struct {
	PreviousModel string `json:"previous_model"`
	NewModel      string `json:"new_model"`
}

func (ConfigModelSwitchPayload) payloadType() Type { return TypeConfigModelSwitch }

// ConfigReasoningLevelPayload is the payload of config.reasoning_level.
type ConfigReasoningLevelPayload struct {
	PreviousLevel string `json:"previous_level,omitempty"`
	NewLevel      string `json:"new_level"`
}

func (ConfigReasoningLevelPayload) payloadType() Type { return TypeConfigReasoningLevel }

// ContextClearedPayload is the payload of context.cleared.
type ContextClearedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (ContextClearedPayload) payloadType() Type { return TypeContextCleared }

// StreamTextDeltaPayload is the payload of stream.text_delta.
type StreamTextDeltaPayload struct {
	Delta string `json:"delta"`
	Turn  int    `json:"turn"`
}

func (StreamTextDeltaPayload) payloadType() Type { return TypeStreamTextDelta }

// StreamThinkingDeltaPayload is the payload of stream.thinking_delta.
type StreamThinkingDeltaPayload struct {
	Delta string `json:"delta"`
	Turn  int    `json:"turn"`
}

func (StreamThinkingDeltaPayload) payloadType() Type { return TypeStreamThinkingDelta }

// StreamThinkingCompletePayload is the payload of stream.thinking_complete.
type StreamThinkingCompletePayload struct {
	Turn int `json:"turn"`
}

func (StreamThinkingCompletePayload) payloadType() Type { return TypeStreamThinkingComplete }

// StreamTurnStartPayload is the payload of stream.turn_start.
type StreamTurnStartPayload struct {
	Turn int `json:"turn"`
}

func (StreamTurnStartPayload) payloadType() Type { return TypeStreamTurnStart }

// StreamTurnEndPayload is the payload of stream.turn_end.
type StreamTurnEndPayload struct {
	Turn int `json:"turn"`
}

func (StreamTurnEndPayload) payloadType() Type { return TypeStreamTurnEnd }

// ErrorAgentPayload is the payload of error.agent.
type ErrorAgentPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorAgentPayload) payloadType() Type { return TypeErrorAgent }

// ErrorToolPayload is the payload of error.tool.
type ErrorToolPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (ErrorToolPayload) payloadType() Type { return TypeErrorTool }

// ErrorProviderPayload is the payload of error.provider.
type ErrorProviderPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorProviderPayload) payloadType() Type { return TypeErrorProvider }

// TurnFailedPayload is the payload of turn.failed.
type TurnFailedPayload struct {
	Turn        int    `json:"turn"`
	Error       string `json:"error"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
}

func (TurnFailedPayload) payloadType() Type { return TypeTurnFailed }

// NotificationInterruptedPayload is the payload of notification.interrupted.
type NotificationInterruptedPayload struct {
	Turn int `json:"turn"`
}

func (NotificationInterruptedPayload) payloadType() Type { return TypeNotificationInterrupted }

// NotificationSubagentResultPayload is the payload of notification.subagent_result.
type NotificationSubagentResultPayload struct {
	SubagentID string          `json:"subagent_id"`
	Result     json.RawMessage `json:"result"`
}

func (NotificationSubagentResultPayload) payloadType() Type {
	return TypeNotificationSubagentResult
}

// UnknownPayload preserves the raw JSON of an event whose type is not part
// of the closed enumeration, or whose known-type payload failed to decode.
// Projection (internal/projection) skips events carrying this payload
// rather than failing the whole walk — spec §6.1 forward compatibility.
type UnknownPayload struct {
	RawType Type
	Raw     json.RawMessage
}

func (u UnknownPayload) payloadType() Type { return u.RawType }

// payloadConstructors maps each known event type to a zero-value payload
// pointer used as a decode target. Mirrors tarsy's tolerant-decode pattern
// in pkg/events/payloads.go, generalized to a closed enum with a typed
// fallback instead of per-publisher Go structs.
var payloadConstructors = map[Type]func() Payload{
	TypeSessionStart:               func() Payload { return &SessionStartPayload{} },
	TypeSessionFork:                func() Payload { return &SessionForkPayload{} },
	TypeSessionEnd:                 func() Payload { return &SessionEndPayload{} },
	TypeMessageUser:                func() Payload { return &MessageUserPayload{} },
	TypeMessageAssistant:           func() Payload { return &MessageAssistantPayload{} },
	TypeToolCall:                   func() Payload { return &ToolCallPayload{} },
	TypeToolResult:                 func() Payload { return &ToolResultPayload{} },
	TypeCompactBoundary:            func() Payload { return &CompactBoundaryPayload{} },
	TypeCompactSummary:             func() Payload { return &CompactSummaryPayload{} },
	TypeMessageDeleted:             func() Payload { return &MessageDeletedPayload{} },
	TypeConfigModelSwitch:          func() Payload { return &ConfigModelSwitchPayload{} },
	TypeConfigReasoningLevel:       func() Payload { return &ConfigReasoningLevelPayload{} },
	TypeContextCleared:             func() Payload { return &ContextClearedPayload{} },
	TypeStreamTextDelta:            func() Payload { return &StreamTextDeltaPayload{} },
	TypeStreamThinkingDelta:        func() Payload { return &StreamThinkingDeltaPayload{} },
	TypeStreamThinkingComplete:     func() Payload { return &StreamThinkingCompletePayload{} },
	TypeStreamTurnStart:            func() Payload { return &StreamTurnStartPayload{} },
	TypeStreamTurnEnd:              func() Payload { return &StreamTurnEndPayload{} },
	TypeErrorAgent:                 func() Payload { return &ErrorAgentPayload{} },
	TypeErrorTool:                  func() Payload { return &ErrorToolPayload{} },
	TypeErrorProvider:              func() Payload { return &ErrorProviderPayload{} },
	TypeTurnFailed:                 func() Payload { return &TurnFailedPayload{} },
	TypeNotificationInterrupted:    func() Payload { return &NotificationInterruptedPayload{} },
	TypeNotificationSubagentResult: func() Payload { return &NotificationSubagentResultPayload{} },
}

// DecodePayload decodes raw into the payload struct registered for t. An
// unrecognized type, or a recognized type whose JSON does not match its
// struct shape, yields an UnknownPayload wrapping the untouched bytes rather
// than an error — callers (store, projection) are expected to carry on.
func DecodePayload(t Type, raw json.RawMessage) Payload {
	ctor, ok := payloadConstructors[t]
	if !ok {
		return UnknownPayload{RawType: t, Raw: raw}
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return UnknownPayload{RawType: t, Raw: raw}
	}
	// Unmarshal targets are always pointers to the concrete struct; deref
	// so Payload values are stored uniformly as non-pointer structs.
	return derefPayload(p)
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *SessionStartPayload:
		return *v
	case *SessionForkPayload:
		return *v
	case *SessionEndPayload:
		return *v
	case *MessageUserPayload:
		return *v
	case *MessageAssistantPayload:
		return *v
	case *ToolCallPayload:
		return *v
	case *ToolResultPayload:
		return *v
	case *CompactBoundaryPayload:
		return *v
	case *CompactSummaryPayload:
		return *v
	case *MessageDeletedPayload:
		return *v
	case *ConfigModelSwitchPayload:
		return *v
	case *ConfigReasoningLevelPayload:
		return *v
	case *ContextClearedPayload:
		return *v
	case *StreamTextDeltaPayload:
		return *v
	case *StreamThinkingDeltaPayload:
		return *v
	case *StreamThinkingCompletePayload:
		return *v
	case *StreamTurnStartPayload:
		return *v
	case *StreamTurnEndPayload:
		return *v
	case *ErrorAgentPayload:
		return *v
	case *ErrorToolPayload:
		return *v
	case *ErrorProviderPayload:
		return *v
	case *TurnFailedPayload:
		return *v
	case *NotificationInterruptedPayload:
		return *v
	case *NotificationSubagentResultPayload:
		return *v
	default:
		return p
	}
}

// EncodePayload marshals a payload back to JSON for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if u, ok := p.(UnknownPayload); ok {
		return u.Raw, nil
	}
	return json.Marshal(p)
}
