package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadGlobalConfig(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)
	t.Setenv("ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_KEY", "")

	writeConfig(t, filepath.Join(laceDir, "lace.json"), `{
		"defaultProvider": "anthropic",
		"model": "claude-sonnet-4-20250514",
		"provider": {
			"anthropic": {"apiKey": "sk-ant-test123"}
		}
	}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
}

func TestProjectConfigOverridesGlobal(t *testing.T) {
	laceDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)

	writeConfig(t, filepath.Join(laceDir, "lace.json"), `{"model": "global-model"}`)
	writeConfig(t, filepath.Join(projectDir, ".lace", "lace.json"), `{"model": "project-model"}`)

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Model)
}

func TestLoadJSONCComments(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)

	writeConfig(t, filepath.Join(laceDir, "lace.jsonc"), `{
		// the default model
		"model": "claude-sonnet-4-20250514",
		/* provider block */
		"provider": {}
	}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Model)
}

func TestEnvOverridesFillEmptyKeys(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)
	t.Setenv("ANTHROPIC_KEY", "sk-ant-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-oai-from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-from-env", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "sk-oai-from-env", cfg.Provider["openai"].APIKey)
	assert.Equal(t, "anthropic", cfg.DefaultProvider, "defaults to the first provider with a key")
}

func TestFileKeyWinsOverEnv(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)
	t.Setenv("ANTHROPIC_KEY", "sk-ant-from-env")

	writeConfig(t, filepath.Join(laceDir, "lace.json"), `{
		"provider": {"anthropic": {"apiKey": "sk-ant-from-file"}}
	}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-from-file", cfg.Provider["anthropic"].APIKey)
}

func TestTestModeFromEnv(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)
	t.Setenv("LACE_TEST_MODE", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.TestMode)
}

func TestToolPolicyMerge(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)

	writeConfig(t, filepath.Join(laceDir, "lace.json"), `{
		"tools": {"autoApproveTools": true, "disableTools": ["bash"]}
	}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Tools.AutoApproveTools)
	assert.Equal(t, []string{"bash"}, cfg.Tools.DisableTools)
}

func TestPaths(t *testing.T) {
	laceDir := t.TempDir()
	t.Setenv("LACE_DIR", laceDir)
	t.Setenv("LACE_DB_PATH", "")

	assert.Equal(t, laceDir, LaceDir())
	assert.Equal(t, filepath.Join(laceDir, "threads"), DBPath())

	t.Setenv("LACE_DB_PATH", "/custom/db")
	assert.Equal(t, "/custom/db", DBPath())

	require.NoError(t, EnsureLaceDir())
	_, err := os.Stat(filepath.Join(laceDir, "tmp"))
	assert.NoError(t, err)
}
