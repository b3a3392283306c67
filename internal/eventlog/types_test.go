package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnown(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want bool
	}{
		{"session start is known", TypeSessionStart, true},
		{"turn failed is known", TypeTurnFailed, true},
		{"notification subagent result is known", TypeNotificationSubagentResult, true},
		{"unrecognized type is not known", Type("widget.created"), false},
		{"empty type is not known", Type(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKnown(tt.typ))
		})
	}
}

func TestEventTypeConstants_AreDistinct(t *testing.T) {
	all := []Type{
		TypeSessionStart, TypeSessionEnd, TypeSessionFork,
		TypeMessageUser, TypeMessageAssistant, TypeMessageDeleted,
		TypeToolCall, TypeToolResult,
		TypeStreamTextDelta, TypeStreamThinkingDelta, TypeStreamThinkingComplete,
		TypeStreamTurnStart, TypeStreamTurnEnd,
		TypeConfigModelSwitch, TypeConfigReasoningLevel,
		TypeCompactBoundary, TypeCompactSummary,
		TypeContextCleared,
		TypeErrorAgent, TypeErrorTool, TypeErrorProvider,
		TypeTurnFailed,
		TypeNotificationInterrupted, TypeNotificationSubagentResult,
	}
	seen := make(map[Type]bool, len(all))
	for _, typ := range all {
		assert.NotEmpty(t, typ)
		assert.False(t, seen[typ], "duplicate event type constant: %s", typ)
		seen[typ] = true
	}
	assert.Equal(t, 24, len(seen), "closed enum must match spec §6.1 exactly")
}

func TestTokenUsage_Add(t *testing.T) {
	a := TokenUsage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 1, CacheCreationTokens: 2}
	b := TokenUsage{InputTokens: 5, OutputTokens: 7}
	got := a.Add(b)
	assert.Equal(t, TokenUsage{InputTokens: 15, OutputTokens: 27, CacheReadTokens: 1, CacheCreationTokens: 2}, got)
}
