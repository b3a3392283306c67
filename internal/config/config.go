// Package config loads the server binary's environment configuration
// (spec.md §6.4): PORT, HOST, the DB_* database variables, WORKSPACE_ROOT, and one
// API-key variable per supported provider, matching tarsy's
// cmd/tarsy/main.go getEnv-helper-plus-godotenv pattern.
package config

import (
	"fmt"
	"os"

	"github.com/conductorhq/sessioncore/internal/store"
	"github.com/joho/godotenv"
)

// Config is the server's top-level runtime configuration.
type Config struct {
	Host string
	Port string

	// WorkspaceRoot is the WORKSPACE_ROOT value. It is read and returned
	// as is; no package in this module checks session working
	// directories against it.
	WorkspaceRoot string

	// ModelRegistryPath, if set, is loaded over the built-in model
	// registry defaults (internal/contextmgr.LoadModelRegistry). Empty
	// means built-ins only.
	ModelRegistryPath string

	// ProviderAPIKeys maps provider name (anthropic, openai, ...) to its
	// API key environment variable's value, one per supported provider
	// per spec.md §6.4. Concrete provider wire clients are out of scope
	// (spec §1 Non-goals); these keys are plumbed through for whatever
	// ProviderFactory the caller wires into rpcapi.New.
	ProviderAPIKeys map[string]string

	DB store.Config
}

// SupportedProviders lists the provider names spec.md §6.4 expects one
// API-key environment variable each for, following the <NAME>_API_KEY
// convention (e.g. ANTHROPIC_API_KEY, OPENAI_API_KEY).
var SupportedProviders = []string{"anthropic", "openai"}

// Load reads configuration from the environment, loading envPath first (if
// it exists) via godotenv, exactly as cmd/tarsy/main.go loads its .env file
// before reading any variable.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("loading database config: %w", err)
	}

	workspaceRoot := getEnv("WORKSPACE_ROOT", "")
	if workspaceRoot == "" {
		return Config{}, fmt.Errorf("WORKSPACE_ROOT is required")
	}

	keys := make(map[string]string, len(SupportedProviders))
	for _, name := range SupportedProviders {
		keys[name] = os.Getenv(providerEnvVar(name))
	}

	return Config{
		Host:              getEnv("HOST", "0.0.0.0"),
		Port:              getEnv("PORT", "8080"),
		WorkspaceRoot:     workspaceRoot,
		ModelRegistryPath: getEnv("MODEL_REGISTRY_PATH", ""),
		ProviderAPIKeys:   keys,
		DB:                dbCfg,
	}, nil
}

func providerEnvVar(provider string) string {
	upper := make([]byte, len(provider))
	for i := 0; i < len(provider); i++ {
		c := provider[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper) + "_API_KEY"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
