// Package config handles CoFina configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/cofina/config.yaml, /etc/cofina/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cofina", "config.yaml"))
	}

	paths = append(paths, "/etc/cofina/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all CoFina configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
	Products ProductsConfig `yaml:"products"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the LLM gateway settings. The gateway speaks the
// OpenAI chat-completions protocol; any compatible endpoint works.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Name    string `yaml:"name"`
	// JudgeTimeoutSec bounds a single verification call (default 10).
	JudgeTimeoutSec int `yaml:"judge_timeout_sec"`
}

// AgentConfig tunes the orchestrator loop.
type AgentConfig struct {
	// MaxTurns bounds the model/tool iteration per user message (default 4).
	MaxTurns int `yaml:"max_turns"`
	// MaxHistory caps the per-session conversation history (default 20 entries).
	MaxHistory int `yaml:"max_history"`
	// SessionTTLMin is the guardrail auth-record time-to-live in minutes
	// of inactivity (default 30).
	SessionTTLMin int `yaml:"session_ttl_min"`
	// VerifyAnswers enables groundedness verification of generated answers.
	VerifyAnswers bool `yaml:"verify_answers"`
}

// ProductsConfig defines the product price-search API settings.
type ProductsConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			BaseURL:         "http://localhost:11434/v1",
			Name:            "qwen3:4b",
			JudgeTimeoutSec: 10,
		},
		Agent: AgentConfig{
			MaxTurns:      4,
			MaxHistory:    20,
			SessionTTLMin: 30,
			VerifyAnswers: true,
		},
		DataDir: ".",
	}
}

// JudgeTimeout returns the configured judge timeout as a duration.
func (c *Config) JudgeTimeout() time.Duration {
	sec := c.Model.JudgeTimeoutSec
	if sec <= 0 {
		sec = 10
	}
	return time.Duration(sec) * time.Second
}

// SessionTTL returns the guardrail session time-to-live as a duration.
func (c *Config) SessionTTL() time.Duration {
	min := c.Agent.SessionTTLMin
	if min <= 0 {
		min = 30
	}
	return time.Duration(min) * time.Minute
}
