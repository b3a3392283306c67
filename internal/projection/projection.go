// Package projection deterministically reconstructs session state — the
// message list, token usage, model, and reasoning level — by folding a
// session's ancestor event chain (spec §4.2). It performs no I/O; callers
// supply the ancestor slice (typically from store.Store.GetAncestors).
//
// Grounded on the shape of tarsy's pkg/agent/context formatters: folding a
// list of typed records into a rendered view, generalized here from
// "format for an LLM prompt" to "fold events into session state."
package projection

import (
	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
)

// Message is one projected, possibly-merged message.
type Message struct {
	Role           eventlog.Role
	Content        []eventlog.ContentBlock
	Turn           int
	StopReason     eventlog.StopReason
	Model          string
	SourceEventIDs []ids.EventID // the events this message was built from, pre-merge order preserved
}

// State is the full reconstructed view at one event (spec §4.2).
type State struct {
	Messages         []Message
	WorkingDirectory string
	Model            string
	ReasoningLevel   string
	TokenUsage       eventlog.TokenUsage
}

type rawMessage struct {
	role       eventlog.Role
	content    []eventlog.ContentBlock
	turn       int
	stopReason eventlog.StopReason
	model      string
	eventID    ids.EventID
	usage      eventlog.TokenUsage
	isAssistant bool
	synthetic  bool
}

// Fold walks ancestors (root-first, as returned by store.GetAncestors) and
// returns the reconstructed state. Fold is pure: the same event slice
// always yields byte-for-byte the same State (spec §4.2's core invariant).
func Fold(ancestors []eventlog.Event) State {
	var (
		model, reasoningLevel, workingDirectory string
		raw                                      []rawMessage
		deleted                                  = make(map[ids.EventID]bool)
		boundaryIdx                              = -1
	)
	reasoningLevel = "medium"

	for _, ev := range ancestors {
		switch p := ev.Payload.(type) {
		case eventlog.SessionStartPayload:
			model = p.InitialModel
			workingDirectory = p.WorkingDirectory

		case eventlog.ConfigModelSwitchPayload:
			model = p.NewModel

		case eventlog.ConfigReasoningLevelPayload:
			reasoningLevel = p.NewLevel

		case eventlog.MessageUserPayload:
			raw = append(raw, rawMessage{role: eventlog.RoleUser, content: p.Content, turn: p.Turn, eventID: ev.ID})

		case eventlog.MessageAssistantPayload:
			raw = append(raw, rawMessage{
				role: eventlog.RoleAssistant, content: p.Content, turn: p.Turn,
				stopReason: p.StopReason, model: p.Model, eventID: ev.ID,
				usage: p.Usage, isAssistant: true,
			})

		case eventlog.ToolResultPayload:
			// tool.call is folded into the assistant message's tool_use
			// block and never produces its own message (spec §4.2 item 4);
			// tool.result carries the result back into context as its own
			// message so a following turn can see it.
			raw = append(raw, rawMessage{role: eventlog.RoleTool, content: p.Content, eventID: ev.ID})

		case eventlog.MessageDeletedPayload:
			deleted[ids.EventID(p.TargetEventID)] = true

		case eventlog.CompactBoundaryPayload:
			boundaryIdx = len(raw)

		case eventlog.CompactSummaryPayload:
			idx := boundaryIdx
			if idx < 0 || idx > len(raw) {
				idx = len(raw)
			}
			summaryUser := rawMessage{
				role:      eventlog.RoleUser,
				content:   []eventlog.ContentBlock{eventlog.TextBlock("Context from earlier: " + p.Summary)},
				eventID:   ev.ID,
				synthetic: true,
			}
			summaryAck := rawMessage{
				role:      eventlog.RoleAssistant,
				content:   []eventlog.ContentBlock{eventlog.TextBlock("Understood, continuing with the summarized context.")},
				eventID:   ev.ID,
				synthetic: true,
			}
			tail := append([]rawMessage{}, raw[idx:]...)
			raw = append([]rawMessage{summaryUser, summaryAck}, tail...)
			boundaryIdx = -1

		default:
			// tool.call, stream.*, config/error/turn bookkeeping events,
			// and any UnknownPayload carry no message-list contribution.
		}
	}

	var usage eventlog.TokenUsage
	kept := raw[:0:0]
	for _, m := range raw {
		if !m.synthetic && deleted[m.eventID] {
			continue
		}
		if m.isAssistant {
			usage = usage.Add(m.usage)
		}
		kept = append(kept, m)
	}

	return State{
		Messages:         merge(kept),
		WorkingDirectory: workingDirectory,
		Model:            model,
		ReasoningLevel:   reasoningLevel,
		TokenUsage:       usage,
	}
}

// merge canonicalises consecutive same-role messages: adjacent user
// messages concatenate their content blocks into one, adjacent assistant
// messages likewise; tool messages never merge with each other or anyone
// else (spec §4.2's canonicalisation step).
func merge(raw []rawMessage) []Message {
	var out []Message
	for _, m := range raw {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Role == m.role && m.role != eventlog.RoleTool {
				last.Content = append(last.Content, m.content...)
				last.SourceEventIDs = append(last.SourceEventIDs, m.eventID)
				if m.isAssistantMerge() {
					last.StopReason = m.stopReason
					last.Model = m.model
					last.Turn = m.turn
				}
				continue
			}
		}
		out = append(out, Message{
			Role: m.role, Content: append([]eventlog.ContentBlock{}, m.content...),
			Turn: m.turn, StopReason: m.stopReason, Model: m.model,
			SourceEventIDs: []ids.EventID{m.eventID},
		})
	}
	return out
}

func (m rawMessage) isAssistantMerge() bool { return m.role == eventlog.RoleAssistant }

// MergedSourceEventIDsStrings is a convenience accessor returning the
// plain-string form of a message's provenance.
func (m Message) MergedSourceEventIDsStrings() []string {
	out := make([]string, len(m.SourceEventIDs))
	for i, id := range m.SourceEventIDs {
		out[i] = string(id)
	}
	return out
}
