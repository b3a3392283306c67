// Package contextmgr is the in-memory context window the turn orchestrator
// consults to decide when to compact and what to send to the provider on
// each turn (spec §4.4).
//
// Grounded on tarsy's pkg/config registry-of-named-configs pattern
// (LLMProviderRegistry, AgentRegistry: a map loaded once from YAML merged
// over built-in defaults, looked up by name) generalized here to a
// ModelRegistry of context-window sizes and cost rates.
package contextmgr

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ModelInfo is the registry entry for one model: its provider family, its
// context-window size, and its per-token cost rates (spec §4.4, §9).
type ModelInfo struct {
	Provider          string  `yaml:"provider"`
	ContextWindow     int     `yaml:"context_window"`
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`
}

// registryYAML mirrors tarsy's *YAMLConfig file-shape structs: one map keyed
// by model name, loaded from a user file and merged over builtinModels.
type registryYAML struct {
	Models map[string]ModelInfo `yaml:"models"`
}

// builtinModels are sane defaults so the server runs with no config file
// present, exactly as tarsy's pkg/config/builtin.go ships built-in agents.
var builtinModels = map[string]ModelInfo{
	"claude-opus-4":       {Provider: "anthropic", ContextWindow: 200_000, InputCostPerMTok: 15, OutputCostPerMTok: 75},
	"claude-sonnet-4":     {Provider: "anthropic", ContextWindow: 200_000, InputCostPerMTok: 3, OutputCostPerMTok: 15},
	"claude-haiku-4":      {Provider: "anthropic", ContextWindow: 200_000, InputCostPerMTok: 0.8, OutputCostPerMTok: 4},
	"gpt-4o":              {Provider: "openai", ContextWindow: 128_000, InputCostPerMTok: 2.5, OutputCostPerMTok: 10},
	"gpt-4o-mini":         {Provider: "openai", ContextWindow: 128_000, InputCostPerMTok: 0.15, OutputCostPerMTok: 0.6},
	"gemini-1.5-pro":      {Provider: "google", ContextWindow: 1_000_000, InputCostPerMTok: 1.25, OutputCostPerMTok: 5},
	"gemini-1.5-flash":    {Provider: "google", ContextWindow: 1_000_000, InputCostPerMTok: 0.075, OutputCostPerMTok: 0.3},
}

// ModelRegistry resolves a model name to its ModelInfo.
type ModelRegistry struct {
	models map[string]ModelInfo
}

// DefaultModelRegistry returns a registry seeded with builtinModels only.
func DefaultModelRegistry() *ModelRegistry {
	out := make(map[string]ModelInfo, len(builtinModels))
	for k, v := range builtinModels {
		out[k] = v
	}
	return &ModelRegistry{models: out}
}

// LoadModelRegistry reads a YAML file of the registryYAML shape and merges
// it over builtinModels (user entries win), the same override direction as
// tarsy's mergo.Merge(queueConfig, tarsyConfig.Queue, mergo.WithOverride)
// call in pkg/config/loader.go.
func LoadModelRegistry(path string) (*ModelRegistry, error) {
	reg := DefaultModelRegistry()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("reading model registry %s: %w", path, err)
	}

	var parsed registryYAML
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing model registry %s: %w", path, err)
	}

	for name, userInfo := range parsed.Models {
		merged := builtinModels[name] // zero value if unknown to builtins
		if err := mergo.Merge(&merged, userInfo, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging model %q: %w", name, err)
		}
		reg.models[name] = merged
	}
	return reg, nil
}

// Lookup returns the ModelInfo for a model name, falling back to a
// provider-inferred default context window if the model is entirely unknown
// to the registry (spec §4.4: providerType is "derived from model name").
func (r *ModelRegistry) Lookup(model string) ModelInfo {
	if info, ok := r.models[model]; ok {
		return info
	}
	return ModelInfo{Provider: inferProvider(model), ContextWindow: 128_000}
}

// inferProvider derives a provider family from a model name's naming
// convention when the model isn't in the registry at all.
func inferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		return "openai"
	case strings.HasPrefix(model, "gemini-"):
		return "google"
	default:
		return "unknown"
	}
}
