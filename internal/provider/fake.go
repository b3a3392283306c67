package provider

import (
	"context"

	"github.com/conductorhq/sessioncore/internal/eventlog"
)

// FakeProvider is an in-memory Stream implementation for orchestrator and
// integration tests: it replays a fixed script of ChunkEvents, honouring
// context cancellation exactly like a real provider's stream would (spec
// §4.6: "cancellation is expressed by dropping subscription").
type FakeProvider struct {
	Script []ChunkEvent
}

// NewFakeProvider returns a FakeProvider that streams script verbatim then
// closes both channels.
func NewFakeProvider(script ...ChunkEvent) *FakeProvider {
	return &FakeProvider{Script: script}
}

func (f *FakeProvider) Stream(ctx context.Context, _ Context) (<-chan ChunkEvent, <-chan error) {
	chunks := make(chan ChunkEvent, len(f.Script))
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		for _, ev := range f.Script {
			select {
			case chunks <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, errs
}

// TextDone is a convenience builder for a scripted ChunkDone event carrying
// a single text content block, used heavily by orchestrator tests.
func TextDone(text string, usage eventlog.TokenUsage, model string) ChunkEvent {
	return ChunkEvent{
		Kind: ChunkDone,
		Done: DoneMessage{
			Content:    []eventlog.ContentBlock{eventlog.TextBlock(text)},
			Usage:      usage,
			StopReason: eventlog.StopEndTurn,
			Model:      model,
		},
	}
}

// ToolUseDone is a convenience builder for a scripted ChunkDone event whose
// stop reason is tool_use and whose content includes a tool_use block.
func ToolUseDone(toolName, toolCallID string, usage eventlog.TokenUsage, model string) ChunkEvent {
	return ChunkEvent{
		Kind: ChunkDone,
		Done: DoneMessage{
			Content: []eventlog.ContentBlock{{
				Kind: eventlog.BlockToolUse, ToolName: toolName, ToolCallID: toolCallID,
			}},
			Usage:      usage,
			StopReason: eventlog.StopToolUse,
			Model:      model,
		},
	}
}
