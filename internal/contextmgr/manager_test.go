package contextmgr

import (
	"strings"
	"testing"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(role eventlog.Role, text string) projection.Message {
	return projection.Message{Role: role, Content: []eventlog.ContentBlock{eventlog.TextBlock(text)}}
}

func registryWith(model string, window int) *ModelRegistry {
	r := DefaultModelRegistry()
	r.models[model] = ModelInfo{Provider: "test", ContextWindow: window}
	return r
}

func TestManager_AddMessage_RecomputesUsage(t *testing.T) {
	reg := registryWith("test-model", 1000)
	m := New(reg, "test-model", nil)

	m.AddMessage(textMessage(eventlog.RoleUser, strings.Repeat("a", 400))) // 100 tokens
	snap := m.GetSnapshot()
	assert.Equal(t, 100, snap.CurrentTokens)
	assert.InDelta(t, 0.1, snap.UsagePercent, 0.0001)
	assert.Equal(t, ThresholdNormal, snap.ThresholdLevel)
}

// TestManager_ModelSwitchCompactionTrigger is spec §8 scenario S3.
func TestManager_ModelSwitchCompactionTrigger(t *testing.T) {
	reg := registryWith("big-model", 1_000_000)
	reg.models["small-model"] = ModelInfo{Provider: "test", ContextWindow: 200_000}

	m := New(reg, "big-model", nil)
	fired := 0
	m.OnCompactionNeeded(func() { fired++ })

	m.AddMessage(textMessage(eventlog.RoleUser, strings.Repeat("a", 1_200_000))) // ~300,000 tokens
	snap := m.GetSnapshot()
	require.Equal(t, ThresholdNormal, snap.ThresholdLevel)
	assert.Equal(t, 0, fired)

	m.SwitchModel("small-model")
	snap = m.GetSnapshot()
	assert.Equal(t, ThresholdExceeded, snap.ThresholdLevel)
	assert.Equal(t, 1, fired)
}

func TestManager_SwitchModel_PreservesMessages(t *testing.T) {
	reg := registryWith("model-a", 1000)
	reg.models["model-b"] = ModelInfo{Provider: "test", ContextWindow: 500}
	m := New(reg, "model-a", []projection.Message{textMessage(eventlog.RoleUser, "hi")})

	m.SwitchModel("model-b")
	snap := m.GetSnapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi", snap.Messages[0].Content[0].Text)
}

func TestManager_SwitchToLargerWindow_NeverFiresCallback(t *testing.T) {
	reg := registryWith("small-model", 500)
	reg.models["big-model"] = ModelInfo{Provider: "test", ContextWindow: 1_000_000}
	m := New(reg, "small-model", nil)
	m.AddMessage(textMessage(eventlog.RoleUser, strings.Repeat("a", 2000))) // exceeds 500-token window

	fired := 0
	m.OnCompactionNeeded(func() { fired++ })
	m.SwitchModel("big-model")

	snap := m.GetSnapshot()
	assert.Equal(t, ThresholdNormal, snap.ThresholdLevel)
	assert.Equal(t, 0, fired)
}

func TestManager_CallbackFiresOnlyOncePerCrossing(t *testing.T) {
	reg := registryWith("model-a", 1000)
	m := New(reg, "model-a", nil)
	fired := 0
	m.OnCompactionNeeded(func() { fired++ })

	m.AddMessage(textMessage(eventlog.RoleUser, strings.Repeat("a", 3400))) // crosses into alert
	assert.Equal(t, 1, fired)

	m.AddMessage(textMessage(eventlog.RoleUser, "more")) // stays in alert, no re-fire
	assert.Equal(t, 1, fired)
}

func TestEstimateTokens_FourCharsPerToken(t *testing.T) {
	messages := []projection.Message{textMessage(eventlog.RoleUser, strings.Repeat("x", 40))}
	assert.Equal(t, 10, EstimateTokens(messages))
}

func TestModelRegistry_UnknownModel_InfersProviderFromName(t *testing.T) {
	reg := DefaultModelRegistry()
	assert.Equal(t, "anthropic", reg.Lookup("claude-future-5").Provider)
	assert.Equal(t, "openai", reg.Lookup("gpt-5-preview").Provider)
	assert.Equal(t, "unknown", reg.Lookup("mystery-model").Provider)
}
