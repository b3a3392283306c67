package store

import (
	"testing"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/stretchr/testify/assert"
)

func TestFoldCounters_TracksModelSwitchAndDeletion(t *testing.T) {
	userID := ids.NewEventID()
	ancestors := []eventlog.Event{
		{ID: ids.NewEventID(), Type: eventlog.TypeSessionStart, Payload: eventlog.SessionStartPayload{InitialModel: "model-a"}},
		{ID: userID, Type: eventlog.TypeMessageUser, Payload: eventlog.MessageUserPayload{Content: []eventlog.ContentBlock{eventlog.TextBlock("hi")}}},
		{ID: ids.NewEventID(), Type: eventlog.TypeConfigModelSwitch, Payload: eventlog.ConfigModelSwitchPayload{PreviousModel: "model-a", NewModel: "model-b"}},
		{ID: ids.NewEventID(), Type: eventlog.TypeMessageAssistant, Payload: eventlog.MessageAssistantPayload{Usage: eventlog.TokenUsage{InputTokens: 3, OutputTokens: 4}}},
		{ID: ids.NewEventID(), Type: eventlog.TypeMessageDeleted, Payload: eventlog.MessageDeletedPayload{TargetEventID: string(userID), TargetType: eventlog.TypeMessageUser}},
	}

	got := foldCounters(ancestors)

	assert.Equal(t, "model-b", got.model)
	assert.Equal(t, "medium", got.reasoningLevel)
	assert.Equal(t, 5, got.eventCount)
	assert.Equal(t, 1, got.messageCount) // the user message was deleted
	assert.EqualValues(t, 3, got.usage.InputTokens)
	assert.EqualValues(t, 4, got.usage.OutputTokens)
}

func TestFoldCounters_EmptyAncestors(t *testing.T) {
	got := foldCounters(nil)
	assert.Equal(t, "", got.model)
	assert.Equal(t, "medium", got.reasoningLevel)
	assert.Equal(t, 0, got.eventCount)
	assert.Equal(t, 0, got.messageCount)
}
