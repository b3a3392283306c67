package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_MissingWorkspaceRoot_ReturnsError(t *testing.T) {
	clearEnv(t, "WORKSPACE_ROOT")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKSPACE_ROOT")
}

func TestLoad_AppliesDefaultsAndReadsProviderKeys(t *testing.T) {
	clearEnv(t, "HOST", "PORT", "WORKSPACE_ROOT", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
	os.Setenv("WORKSPACE_ROOT", "/work")
	os.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/work", cfg.WorkspaceRoot)
	assert.Equal(t, "sk-test-anthropic", cfg.ProviderAPIKeys["anthropic"])
	assert.Equal(t, "", cfg.ProviderAPIKeys["openai"])
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t, "HOST", "PORT", "WORKSPACE_ROOT")
	os.Setenv("HOST", "127.0.0.1")
	os.Setenv("PORT", "9090")
	os.Setenv("WORKSPACE_ROOT", "/srv/workspaces")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/srv/workspaces", cfg.WorkspaceRoot)
}

func TestProviderEnvVar(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", providerEnvVar("anthropic"))
	assert.Equal(t, "OPENAI_API_KEY", providerEnvVar("openai"))
}
