package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Model.Provider)
	require.Equal(t, 25, cfg.Run.MaxToolCallContinuations)
	require.Equal(t, "inmem", cfg.Storage.Backend)
}

func TestLoadParsesTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.toml")
	contents := `
[model]
provider = "openai"
name = "gpt-5"

[run]
max_tool_call_continuations = 10
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Model.Provider)
	require.Equal(t, "gpt-5", cfg.Model.Name)
	require.Equal(t, 10, cfg.Run.MaxToolCallContinuations)
	require.Equal(t, "auto", cfg.Run.ToolChoice, "unset TOML fields keep their default")
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Model, cfg.Model)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[model]
provider = "openai"
`), 0o600))

	t.Setenv("AGENTCORE_MODEL_PROVIDER", "anthropic")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Model.Provider)
}
