package provider

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeProvider_StreamsScriptInOrder(t *testing.T) {
	fp := NewFakeProvider(
		ChunkEvent{Kind: ChunkTextDelta, TextDelta: "Hi"},
		TextDone("Hi", eventlog.TokenUsage{InputTokens: 1, OutputTokens: 2}, "model-a"),
	)

	chunks, errs := fp.Stream(context.Background(), Context{})

	var got []ChunkEvent
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, ChunkTextDelta, got[0].Kind)
	assert.Equal(t, ChunkDone, got[1].Kind)
	assert.Equal(t, eventlog.StopEndTurn, got[1].Done.StopReason)

	_, ok := <-errs
	assert.False(t, ok, "errs channel should close with no error emitted")
}

func TestFakeProvider_StopsOnCancellation(t *testing.T) {
	fp := NewFakeProvider(
		ChunkEvent{Kind: ChunkTextDelta, TextDelta: "a"},
		ChunkEvent{Kind: ChunkTextDelta, TextDelta: "b"},
		ChunkEvent{Kind: ChunkTextDelta, TextDelta: "c"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	chunks, _ := fp.Stream(ctx, Context{})

	first := <-chunks
	assert.Equal(t, "a", first.TextDelta)
	cancel()

	select {
	case _, ok := <-chunks:
		_ = ok // either a buffered chunk or the closed channel; both fine
	case <-time.After(time.Second):
		t.Fatal("stream did not close promptly after cancellation")
	}
}

func TestToolUseDone_BuildsToolUseBlock(t *testing.T) {
	ev := ToolUseDone("grep", "tc1", eventlog.TokenUsage{}, "model-a")
	require.Len(t, ev.Done.Content, 1)
	assert.Equal(t, eventlog.BlockToolUse, ev.Done.Content[0].Kind)
	assert.Equal(t, "grep", ev.Done.Content[0].ToolName)
	assert.Equal(t, eventlog.StopToolUse, ev.Done.StopReason)
}
