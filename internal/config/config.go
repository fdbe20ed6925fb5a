// Package config loads the core's configuration: provider credentials,
// the default provider/model pair, and tool-policy flags. Sources are
// merged in priority order — global file under $LACE_DIR, project file,
// then environment variables. Full CLI argument parsing and the wider
// config surface stay external collaborators.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ProviderConfig holds one provider's credentials and model override.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ToolPolicy carries the tool-policy flags the CLI surface exposes.
type ToolPolicy struct {
	AllowNonDestructiveTools bool     `json:"allowNonDestructiveTools,omitempty"`
	AutoApproveTools         bool     `json:"autoApproveTools,omitempty"`
	DisableTools             []string `json:"disableTools,omitempty"`
	DisableAllTools          bool     `json:"disableAllTools,omitempty"`
	DisableToolGuardrails    bool     `json:"disableToolGuardrails,omitempty"`
}

// Config is the merged configuration the core consumes.
type Config struct {
	DefaultProvider string                    `json:"defaultProvider,omitempty"`
	Model           string                    `json:"model,omitempty"`
	Provider        map[string]ProviderConfig `json:"provider,omitempty"`
	Tools           ToolPolicy                `json:"tools,omitempty"`
	TestMode        bool                      `json:"-"`
}

// Load merges configuration from (in priority order):
//  1. Global config ($LACE_DIR/lace.json or lace.jsonc)
//  2. Project config (<directory>/.lace/lace.json or lace.jsonc)
//  3. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{Provider: make(map[string]ProviderConfig)}

	laceDir := LaceDir()
	loadConfigFile(filepath.Join(laceDir, "lace.json"), config)
	loadConfigFile(filepath.Join(laceDir, "lace.jsonc"), config)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".lace", "lace.json"), config)
		loadConfigFile(filepath.Join(directory, ".lace", "lace.jsonc"), config)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file. A missing file is skipped.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = stripJSONComments(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	return multiLine.ReplaceAll(data, nil)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.DefaultProvider != "" {
		target.DefaultProvider = source.DefaultProvider
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	for k, v := range source.Provider {
		merged := target.Provider[k]
		if v.APIKey != "" {
			merged.APIKey = v.APIKey
		}
		if v.BaseURL != "" {
			merged.BaseURL = v.BaseURL
		}
		if v.Model != "" {
			merged.Model = v.Model
		}
		target.Provider[k] = merged
	}
	if source.Tools.AllowNonDestructiveTools {
		target.Tools.AllowNonDestructiveTools = true
	}
	if source.Tools.AutoApproveTools {
		target.Tools.AutoApproveTools = true
	}
	if len(source.Tools.DisableTools) > 0 {
		target.Tools.DisableTools = append(target.Tools.DisableTools, source.Tools.DisableTools...)
	}
	if source.Tools.DisableAllTools {
		target.Tools.DisableAllTools = true
	}
	if source.Tools.DisableToolGuardrails {
		target.Tools.DisableToolGuardrails = true
	}
}

// applyEnvOverrides applies environment variable overrides. A key set in
// a config file wins over the environment, matching the teacher's
// fill-if-empty semantics.
func applyEnvOverrides(config *Config) {
	setKey := func(provider string, envVars ...string) {
		p := config.Provider[provider]
		if p.APIKey != "" {
			return
		}
		for _, envVar := range envVars {
			if key := os.Getenv(envVar); key != "" {
				p.APIKey = key
				config.Provider[provider] = p
				return
			}
		}
	}
	setKey("anthropic", "ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	setKey("openai", "OPENAI_API_KEY", "OPENAI_KEY")

	if config.DefaultProvider == "" {
		switch {
		case config.Provider["anthropic"].APIKey != "":
			config.DefaultProvider = "anthropic"
		case config.Provider["openai"].APIKey != "":
			config.DefaultProvider = "openai"
		}
	}

	if os.Getenv("LACE_TEST_MODE") != "" {
		config.TestMode = true
	}
}

// Save writes config to path, creating parent directories.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
