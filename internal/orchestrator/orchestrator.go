// Package orchestrator drives one turn of a session: idle → appending_user →
// streaming → draining → idle/failed (spec §4.5).
//
// Grounded on tarsy's pkg/agent/controller/streaming.go
// (collectStreamWithCallback: drain a provider chunk channel, dispatch by
// chunk kind, invoke a callback per delta, collect a final response — here
// generalized from "collect one LLM call's output" to "drive a full turn
// including tool rounds") and pkg/queue/worker.go's claim → execute →
// terminal-status → cleanup shape for the draining/idle/failed transitions.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/conductorhq/sessioncore/internal/contextmgr"
	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/conductorhq/sessioncore/internal/persister"
	"github.com/conductorhq/sessioncore/internal/provider"
	"github.com/conductorhq/sessioncore/internal/projection"
)

// State is one position in the turn state machine (spec §4.5).
type State string

const (
	StateIdle          State = "idle"
	StateAppendingUser State = "appending_user"
	StateStreaming     State = "streaming"
	StateDraining      State = "draining"
	StateFailed        State = "failed"
)

// DefaultTurnTimeout is the per-turn timeout from streaming entry to done
// (spec §5, default 120s).
const DefaultTurnTimeout = 120 * time.Second

// Repetition-guard parameters (supplemented feature, SPEC_FULL.md §7),
// grounded on tarsy's detectTextLoop constants in
// pkg/agent/controller/streaming.go.
const (
	loopCheckInterval = 2000
	loopMinPatternLen = 30
	loopMaxPatternLen = 500
	loopMinRepeats    = 5
	loopWindowSize    = 6000
)

// Publisher broadcasts persisted events to live subscribers (spec §4.7).
// Narrow interface so the orchestrator doesn't import internal/notify
// directly; internal/notify.Bus satisfies it.
type Publisher interface {
	Publish(sessionID ids.SessionID, ev eventlog.Event)
}

// ToolExecutor dispatches one tool call and returns its result content —
// the "external collaborator" spec §4.5 item 3 refers to.
type ToolExecutor interface {
	Execute(ctx context.Context, call eventlog.ToolCallPayload) (content []eventlog.ContentBlock, isError bool, err error)
}

// Orchestrator drives turns for one session. One instance per active
// session (mirrors the persister's one-per-session lifetime).
type Orchestrator struct {
	sessionID ids.SessionID
	persist   *persister.Persister
	ctxmgr    *contextmgr.Manager
	provider  provider.Stream
	tools     ToolExecutor
	publisher Publisher
	turnTimeout time.Duration

	mu    sync.Mutex
	state State
	turn  int

	cancelActive context.CancelFunc
}

// New constructs an Orchestrator. tools may be nil if the session never
// uses tool calls (tool dispatch is simply skipped).
func New(sessionID ids.SessionID, p *persister.Persister, cm *contextmgr.Manager, prov provider.Stream, tools ToolExecutor, pub Publisher) *Orchestrator {
	return &Orchestrator{
		sessionID: sessionID, persist: p, ctxmgr: cm, provider: prov, tools: tools, publisher: pub,
		turnTimeout: DefaultTurnTimeout, state: StateIdle,
	}
}

// State returns the orchestrator's current FSM state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// SetTurnTimeout overrides the per-turn timeout (default DefaultTurnTimeout),
// for callers that load it from configuration rather than accepting the
// default. Must be called before StartTurn; it is not safe to change mid-turn.
func (o *Orchestrator) SetTurnTimeout(d time.Duration) {
	o.turnTimeout = d
}

// StartTurn drives transition 1 through however many streaming/draining
// rounds a tool-using turn requires, back to idle or failed (spec §4.5).
func (o *Orchestrator) StartTurn(ctx context.Context, userContent []eventlog.ContentBlock) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot start turn from state %q", o.state)
	}
	o.turn++
	turn := o.turn
	o.state = StateAppendingUser
	o.mu.Unlock()

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	o.mu.Lock()
	o.cancelActive = cancel
	o.mu.Unlock()
	defer cancel()

	o.persist.Append(eventlog.TypeMessageUser, eventlog.MessageUserPayload{Content: userContent, Turn: turn}, nil)
	o.persist.Append(eventlog.TypeStreamTurnStart, eventlog.StreamTurnStartPayload{Turn: turn}, func(ev eventlog.Event) {
		o.publish(ev)
	})
	o.ctxmgr.AddMessage(projection.Message{Role: eventlog.RoleUser, Content: userContent, Turn: turn})

	o.setState(StateStreaming)
	for {
		done, failure := o.runOneStreamingRound(turnCtx, turn)
		if failure != nil {
			return o.failTurn(turn, failure.code, failure.reason, failure.recoverable)
		}
		if !done {
			continue // another tool round: looped back to streaming
		}
		break
	}

	o.setState(StateIdle)
	return nil
}

// turnFailure labels why a streaming round ended in failure, so failTurn can
// record the right turn.failed code instead of a generic one (spec §5
// timeout, SPEC_FULL.md §7 degenerate_loop).
type turnFailure struct {
	code        string
	reason      string
	recoverable bool
}

// runOneStreamingRound executes transitions 2 and 3 once: stream the
// provider to a done/error chunk, then drain tool calls if the stop reason
// demands it. Returns (turnComplete, failure). turnComplete is false when
// the round ends with another streaming round queued (tool loop); failure is
// nil on success.
func (o *Orchestrator) runOneStreamingRound(ctx context.Context, turn int) (turnComplete bool, failure *turnFailure) {
	snap := o.ctxmgr.GetSnapshot()
	providerCtx := toProviderContext(snap.Messages)

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	chunks, errs := o.provider.Stream(streamCtx, providerCtx)

	var textBuf, thinkBuf strings.Builder
	var lastLoopCheck int
	var pendingToolCalls []eventlog.ToolCallPayload
	stopReason := eventlog.StopReason("")

	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			switch chunk.Kind {
			case provider.ChunkTextDelta:
				textBuf.WriteString(chunk.TextDelta)
				o.persist.Append(eventlog.TypeStreamTextDelta, eventlog.StreamTextDeltaPayload{Delta: chunk.TextDelta, Turn: turn}, func(ev eventlog.Event) { o.publish(ev) })

				if textBuf.Len()-lastLoopCheck >= loopCheckInterval {
					lastLoopCheck = textBuf.Len()
					if detectTextLoop(textBuf.String()) {
						slog.Warn("degenerate text loop detected, cancelling provider stream", "session_id", o.sessionID, "turn", turn)
						cancelStream()
						return false, &turnFailure{code: "degenerate_loop", reason: "degenerate text loop detected", recoverable: true}
					}
				}

			case provider.ChunkThinkingDelta:
				thinkBuf.WriteString(chunk.ThinkingDelta)
				o.persist.Append(eventlog.TypeStreamThinkingDelta, eventlog.StreamThinkingDeltaPayload{Delta: chunk.ThinkingDelta, Turn: turn}, func(ev eventlog.Event) { o.publish(ev) })

			case provider.ChunkToolCallEnd:
				call := eventlog.ToolCallPayload{ToolName: chunk.ToolCall.Name, ToolCallID: chunk.ToolCall.ID, Arguments: chunk.ToolCall.Args}
				pendingToolCalls = append(pendingToolCalls, call)
				o.persist.Append(eventlog.TypeToolCall, call, func(ev eventlog.Event) { o.publish(ev) })

			case provider.ChunkDone:
				ev, err := o.appendSync(ctx, eventlog.TypeMessageAssistant, eventlog.MessageAssistantPayload{
					Content: chunk.Done.Content, Turn: turn, Usage: chunk.Done.Usage,
					StopReason: chunk.Done.StopReason, Model: chunk.Done.Model,
				})
				if err != nil {
					return false, &turnFailure{code: "provider_error", reason: "stream round failed", recoverable: true}
				}
				o.publish(ev)
				o.ctxmgr.AddMessage(projection.Message{Role: eventlog.RoleAssistant, Content: chunk.Done.Content, Turn: turn, StopReason: chunk.Done.StopReason, Model: chunk.Done.Model})
				stopReason = chunk.Done.StopReason
				chunks = nil
				errs = nil

			case provider.ChunkError:
				ev, err := o.appendSync(ctx, eventlog.TypeErrorProvider, eventlog.ErrorProviderPayload{Code: chunk.ErrorCode, Message: chunk.ErrorMessage})
				if err == nil {
					o.publish(ev)
				}
				return false, &turnFailure{code: "provider_error", reason: "stream round failed", recoverable: true}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				ev, aerr := o.appendSync(ctx, eventlog.TypeErrorProvider, eventlog.ErrorProviderPayload{Code: "stream_error", Message: err.Error()})
				if aerr == nil {
					o.publish(ev)
				}
				return false, &turnFailure{code: "provider_error", reason: "stream round failed", recoverable: true}
			}

		case <-ctx.Done():
			return false, &turnFailure{code: "timeout", reason: "turn exceeded timeout", recoverable: true}
		}
	}

	if stopReason == eventlog.StopToolUse && len(pendingToolCalls) > 0 && o.tools != nil {
		o.setState(StateDraining)
		if !o.drainTools(ctx, pendingToolCalls) {
			return false, &turnFailure{code: "provider_error", reason: "stream round failed", recoverable: true}
		}
		o.setState(StateStreaming)
		return false, nil // loop back to streaming with the same turn
	}

	o.setState(StateDraining)
	ev, err := o.appendSync(ctx, eventlog.TypeStreamTurnEnd, eventlog.StreamTurnEndPayload{Turn: turn})
	if err != nil {
		return false, &turnFailure{code: "provider_error", reason: "stream round failed", recoverable: true}
	}
	o.publish(ev)
	return true, nil
}

// drainTools dispatches every pending tool call and appends its result.
// Returns false if any dispatch fails (the caller treats that as a failed
// turn, per spec §4.5's "latch failure" language generalized to tool
// errors — a tool error is still reported back to the provider as
// tool.result{isError: true} rather than aborting, per common agent-loop
// practice; only an executor-level error, not a tool-reported failure,
// aborts the turn).
func (o *Orchestrator) drainTools(ctx context.Context, calls []eventlog.ToolCallPayload) bool {
	for _, call := range calls {
		content, isError, err := o.tools.Execute(ctx, call)
		if err != nil {
			return false
		}
		payload := eventlog.ToolResultPayload{ToolCallID: call.ToolCallID, Content: content, IsError: isError}
		ev, aerr := o.appendSync(ctx, eventlog.TypeToolResult, payload)
		if aerr != nil {
			return false
		}
		o.publish(ev)
		o.ctxmgr.AddMessage(projection.Message{Role: eventlog.RoleTool, Content: content})
	}
	return true
}

// Cancel transitions the active turn to a terminal path: notification.
// interrupted is appended, in-flight provider calls are cancelled, and
// already-enqueued persister writes are flushed rather than aborted so the
// log is never truncated mid-message (spec §4.5 cancellation semantics).
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.mu.Lock()
	cancel := o.cancelActive
	turn := o.turn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.persist.Flush(ctx)
	ev, err := o.appendSync(ctx, eventlog.TypeNotificationInterrupted, eventlog.NotificationInterruptedPayload{Turn: turn})
	if err == nil {
		o.publish(ev)
	}
	o.setState(StateIdle)
}

// failTurn appends turn.failed as the envelope around whatever specific
// error.provider/error.tool event appendSync already recorded, labelled with
// code (e.g. "timeout", "degenerate_loop", "provider_error") and returns the
// session to idle so a new turn may start (spec §4.5 transition 4; spec §5
// timeout; SPEC_FULL.md §7 degenerate_loop).
func (o *Orchestrator) failTurn(turn int, code, reason string, recoverable bool) error {
	o.setState(StateFailed)
	ev, err := o.appendSync(context.Background(), eventlog.TypeTurnFailed, eventlog.TurnFailedPayload{
		Turn: turn, Error: reason, Code: code, Recoverable: recoverable,
	})
	if err == nil {
		o.publish(ev)
	}
	o.setState(StateIdle)
	return fmt.Errorf("turn %d failed: %s", turn, reason)
}

func (o *Orchestrator) appendSync(ctx context.Context, typ eventlog.Type, payload eventlog.Payload) (eventlog.Event, error) {
	ev := o.persist.AppendAsync(ctx, typ, payload)
	if ev == nil {
		return eventlog.Event{}, fmt.Errorf("orchestrator: append %s failed: %v", typ, o.persist.GetError())
	}
	return *ev, nil
}

func (o *Orchestrator) publish(ev eventlog.Event) {
	if o.publisher != nil {
		o.publisher.Publish(o.sessionID, ev)
	}
}

func toProviderContext(messages []projection.Message) provider.Context {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return provider.Context{Messages: out}
}

// detectTextLoop reports whether the tail of text repeats a 30-500 byte
// pattern loopMinRepeats or more times consecutively, mirroring tarsy's
// detectTextLoop in pkg/agent/controller/streaming.go.
func detectTextLoop(text string) bool {
	n := len(text)
	window := loopWindowSize
	if window > n {
		window = n
	}
	tail := text[n-window:]

	for patLen := loopMinPatternLen; patLen <= loopMaxPatternLen; patLen++ {
		if patLen*(loopMinRepeats+1) > len(tail) {
			break
		}
		pattern := tail[len(tail)-patLen:]
		count := 1
		pos := len(tail) - patLen*2
		for pos >= 0 && tail[pos:pos+patLen] == pattern {
			count++
			pos -= patLen
		}
		if count >= loopMinRepeats {
			return true
		}
	}
	return false
}
