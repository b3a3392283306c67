package contextmgr

import (
	"sync"

	"github.com/conductorhq/sessioncore/internal/projection"
)

// charsPerToken is the stable, deterministic token estimator spec.md §4.4
// requires: 4 characters per token. Defined once here; no other package
// re-derives it (Open Question #2, see DESIGN.md).
const charsPerToken = 4

// ThresholdLevel classifies context-window fullness (spec §4.4, glossary).
type ThresholdLevel string

const (
	ThresholdNormal   ThresholdLevel = "normal"
	ThresholdWarning  ThresholdLevel = "warning"
	ThresholdAlert    ThresholdLevel = "alert"
	ThresholdExceeded ThresholdLevel = "exceeded"
)

const (
	warningRatio  = 0.60
	alertRatio    = 0.80
	exceededRatio = 1.00
)

// Snapshot is the read-only view returned by GetSnapshot (spec §4.4).
type Snapshot struct {
	Messages       []projection.Message
	CurrentTokens  int
	UsagePercent   float64
	ThresholdLevel ThresholdLevel
	Model          string
	ProviderType   string
	ContextLimit   int
}

// Manager is the in-memory context window for one session. Not safe to
// share across sessions; one Manager per active session, owned by that
// session's orchestrator goroutine (mirrors spec §9's "all other state is
// per-session" global-state constraint).
type Manager struct {
	mu       sync.Mutex
	registry *ModelRegistry

	messages []projection.Message
	model    string
	info     ModelInfo

	currentTokens int
	threshold     ThresholdLevel

	onCompaction func()
}

// New creates a Manager seeded with an initial projected message list and
// model, as the orchestrator would right after loading a session's current
// state (spec §4.4).
func New(registry *ModelRegistry, model string, messages []projection.Message) *Manager {
	m := &Manager{registry: registry, model: model, info: registry.Lookup(model), messages: append([]projection.Message{}, messages...)}
	m.recompute()
	return m
}

// AddMessage appends a message and recomputes token usage and threshold
// level, firing the compaction callback if a threshold boundary is crossed
// upward (spec §4.4).
func (m *Manager) AddMessage(msg projection.Message) {
	m.mu.Lock()
	prev := m.threshold
	m.messages = append(m.messages, msg)
	m.recompute()
	cur := m.threshold
	m.mu.Unlock()
	m.maybeFireCallback(prev, cur)
}

// SwitchModel updates the current model and its context-window limit. The
// message list is preserved verbatim (spec §4.4 invariant: "model switch
// never loses messages"); token usage and threshold are recomputed against
// the new model's window, and the compaction callback fires if the switch
// crosses into alert or exceeded — but never fires merely because the
// window grew (spec §8 scenario S3, and "swapping to a larger window never
// fires the callback").
func (m *Manager) SwitchModel(newModel string) {
	m.mu.Lock()
	prev := m.threshold
	m.model = newModel
	m.info = m.registry.Lookup(newModel)
	m.recompute()
	cur := m.threshold
	m.mu.Unlock()
	m.maybeFireCallback(prev, cur)
}

// OnCompactionNeeded registers the single callback fired when a threshold
// crossing demands compaction (spec §4.4). Replaces any previously
// registered callback.
func (m *Manager) OnCompactionNeeded(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompaction = cb
}

// GetSnapshot returns the current read-only view (spec §4.4).
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Messages:       append([]projection.Message{}, m.messages...),
		CurrentTokens:  m.currentTokens,
		UsagePercent:   usagePercent(m.currentTokens, m.info.ContextWindow),
		ThresholdLevel: m.threshold,
		Model:          m.model,
		ProviderType:   m.info.Provider,
		ContextLimit:   m.info.ContextWindow,
	}
}

// EstimateTokens is the server's one estimator (Open Question #2): 4
// characters of rendered content per token, applied uniformly so the
// estimate is deterministic and symmetric wherever it's used.
func EstimateTokens(messages []projection.Message) int {
	total := 0
	for _, msg := range messages {
		for _, block := range msg.Content {
			total += len(block.Text)
			if block.ToolArgs != nil {
				total += len(block.ToolArgs)
			}
		}
	}
	return (total + charsPerToken - 1) / charsPerToken
}

func (m *Manager) recompute() {
	m.currentTokens = EstimateTokens(m.messages)
	m.threshold = classifyThreshold(usagePercent(m.currentTokens, m.info.ContextWindow))
}

func classifyThreshold(usage float64) ThresholdLevel {
	switch {
	case usage >= exceededRatio:
		return ThresholdExceeded
	case usage >= alertRatio:
		return ThresholdAlert
	case usage >= warningRatio:
		return ThresholdWarning
	default:
		return ThresholdNormal
	}
}

func usagePercent(tokens, window int) float64 {
	if window <= 0 {
		return 0
	}
	return float64(tokens) / float64(window)
}

// rank orders threshold levels for crossing comparisons.
func rank(level ThresholdLevel) int {
	switch level {
	case ThresholdNormal:
		return 0
	case ThresholdWarning:
		return 1
	case ThresholdAlert:
		return 2
	case ThresholdExceeded:
		return 3
	default:
		return 0
	}
}

// maybeFireCallback invokes the registered callback exactly once when the
// threshold newly crosses into alert or exceeded territory — never on a
// drop, and never on a rise that stays below alert (spec §4.4, §8 S3).
func (m *Manager) maybeFireCallback(prev, cur ThresholdLevel) {
	if rank(cur) <= rank(prev) {
		return
	}
	if cur != ThresholdAlert && cur != ThresholdExceeded {
		return
	}
	m.mu.Lock()
	cb := m.onCompaction
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}
