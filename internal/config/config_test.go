package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneKnobs(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 50, cfg.MaxContextMessages)
	require.Equal(t, "anthropic", cfg.LLMProvider)
	require.Equal(t, 300*time.Second, cfg.AgentTimeout())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_HTTP_ADDR", ":9999")
	t.Setenv("GATEWAY_MAX_ITERATIONS", "3")
	t.Setenv("GATEWAY_LLM_PROVIDER", "openai")
	t.Setenv("MONGO_URI", "mongodb://example/test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTPAddr)
	require.Equal(t, 3, cfg.MaxIterations)
	require.Equal(t, "openai", cfg.LLMProvider)
	require.Equal(t, "mongodb://example/test", cfg.MongoURI)
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("GATEWAY_MAX_ITERATIONS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().MaxIterations, cfg.MaxIterations)
}

func TestLoadYAMLOverlayUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gateway.yaml"
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":7000\"\nmax_context_messages: 10\n"), 0o600))
	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("GATEWAY_MAX_CONTEXT_MESSAGES", "20")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTPAddr, "yaml overlay applies where env is unset")
	require.Equal(t, 20, cfg.MaxContextMessages, "env overrides the yaml overlay")
}
