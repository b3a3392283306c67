package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_KnownTypes_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload Payload
	}{
		{"session.start", TypeSessionStart, SessionStartPayload{WorkspacePath: "/ws", WorkingDirectory: "/ws/repo", InitialModel: "claude-x"}},
		{"message.user", TypeMessageUser, MessageUserPayload{Content: []ContentBlock{TextBlock("hi")}, Turn: 1}},
		{"message.assistant", TypeMessageAssistant, MessageAssistantPayload{
			Content:    []ContentBlock{TextBlock("hello")},
			Turn:       1,
			Usage:      TokenUsage{InputTokens: 3, OutputTokens: 4},
			StopReason: StopEndTurn,
			Model:      "claude-x",
		}},
		{"tool.call", TypeToolCall, ToolCallPayload{ToolName: "grep", ToolCallID: "tc_1", Arguments: json.RawMessage(`{"pattern":"foo"}`)}},
		{"message.deleted", TypeMessageDeleted, MessageDeletedPayload{TargetEventID: "evt_1", TargetType: TypeMessageUser}},
		{"config.model_switch", TypeConfigModelSwitch, ConfigModelSwitchPayload{PreviousModel: "a", NewModel: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodePayload(tt.payload)
			require.NoError(t, err)
			got := DecodePayload(tt.typ, raw)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestDecodePayload_UnknownType_PreservesRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"future_field":"value"}`)
	got := DecodePayload(Type("widget.created"), raw)
	unknown, ok := got.(UnknownPayload)
	require.True(t, ok, "expected UnknownPayload, got %T", got)
	assert.Equal(t, Type("widget.created"), unknown.RawType)
	assert.JSONEq(t, string(raw), string(unknown.Raw))
}

func TestDecodePayload_MalformedKnownType_FallsBackToUnknown(t *testing.T) {
	// message.user.content expects an array; feeding a string must not panic
	// or error, it must degrade to an opaque payload per spec §6.1.
	raw := json.RawMessage(`{"content":"not-an-array","turn":1}`)
	got := DecodePayload(TypeMessageUser, raw)
	unknown, ok := got.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, TypeMessageUser, unknown.RawType)
}

func TestEncodePayload_UnknownPayload_ReturnsOriginalBytes(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	u := UnknownPayload{RawType: Type("widget.created"), Raw: raw}
	got, err := EncodePayload(u)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got))
}
