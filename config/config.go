// Package config loads runtime tunables for the agentcore-demo binary:
// defaults, then an optional TOML file, then environment variables (env
// wins), then a .env file loaded ahead of time for local development
// secrets. Grounded on nevindra-oasis's internal/config package's
// defaults-then-TOML-then-env layering.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Model   ModelConfig   `toml:"model"`
	Context ContextConfig `toml:"context"`
	Run     RunConfig     `toml:"run"`
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig controls the demo CLI's own behavior.
type ServerConfig struct {
	LogLevel string `toml:"log_level"`
}

// ModelConfig selects and authenticates the LLM client.
type ModelConfig struct {
	Provider string `toml:"provider"`
	Name     string `toml:"name"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

// ContextConfig tunes the Context Manager.
type ContextConfig struct {
	TokenThreshold      int    `toml:"token_threshold"`
	SummaryTargetTokens int    `toml:"summary_target_tokens"`
	ReservedTokens      int    `toml:"reserved_tokens"`
	SummarizationModel  string `toml:"summarization_model"`
}

// RunConfig seeds the default message.RunConfig every new run starts from.
type RunConfig struct {
	MaxToolCallContinuations int    `toml:"max_tool_call_continuations"`
	ToolChoice               string `toml:"tool_choice"`
	DispatchStrategy         string `toml:"dispatch_strategy"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "inmem" or "redis".
	Backend  string `toml:"backend"`
	RedisURL string `toml:"redis_url"`
}

// Default returns a Config with every field set to its built-in default.
func Default() Config {
	return Config{
		Server: ServerConfig{LogLevel: "info"},
		Model:  ModelConfig{Provider: "anthropic", Name: "claude-sonnet-4-5"},
		Context: ContextConfig{
			TokenThreshold:      100000,
			SummaryTargetTokens: 2000,
			ReservedTokens:      1000,
		},
		Run: RunConfig{
			MaxToolCallContinuations: 25,
			ToolChoice:               "auto",
			DispatchStrategy:         "sequential",
		},
		Storage: StorageConfig{Backend: "inmem"},
	}
}

// Load reads config: defaults -> .env (if present) -> TOML file at path (if
// present and non-empty) -> environment variable overrides (env wins).
// A missing TOML file or .env file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("AGENTCORE_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("AGENTCORE_MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("AGENTCORE_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("AGENTCORE_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("AGENTCORE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("AGENTCORE_STORAGE_REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("AGENTCORE_CONTEXT_TOKEN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Context.TokenThreshold = n
		}
	}
	if v := os.Getenv("AGENTCORE_RUN_MAX_TOOL_CALL_CONTINUATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.MaxToolCallContinuations = n
		}
	}
}
