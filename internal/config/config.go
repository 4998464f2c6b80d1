// Package config handles Lister configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/lister/config.yaml, /etc/lister/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "lister", "config.yaml"))
	}

	paths = append(paths, "/etc/lister/config.yaml")
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

// Config holds all Lister configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Limits   LimitsConfig   `yaml:"limits"`
	Memory   MemoryConfig   `yaml:"memory"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AgentConfig defines the external tool-calling agent endpoint.
type AgentConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout_sec"` // per-turn timeout (default 120)
}

// LLMConfig defines the text-generation endpoint used for background
// summarization. This is separate from the agent endpoint: snapshot
// summaries are plain prompt-in, text-out calls with no tool loop.
type LLMConfig struct {
	BaseURL string `yaml:"baseurl"`
	Model   string `yaml:"model"`
}

// LimitsConfig sets the system default daily usage ceilings. Per-merchant
// overrides in merchant settings take precedence over these.
type LimitsConfig struct {
	TextTokens         int `yaml:"text_tokens"`
	BulkBatches        int `yaml:"bulk_batches"`
	ImageGeneration    int `yaml:"image_generation"`
	ScreenshotAnalysis int `yaml:"screenshot_analysis"`
}

// MemoryConfig controls conversation snapshot behavior.
type MemoryConfig struct {
	// RecentMessages is how many raw messages are appended verbatim when
	// building condensed context (default 10).
	RecentMessages int `yaml:"recent_messages"`
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8930
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = 120
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Limits.TextTokens <= 0 {
		c.Limits.TextTokens = 500_000
	}
	if c.Limits.BulkBatches <= 0 {
		c.Limits.BulkBatches = 5
	}
	if c.Limits.ImageGeneration <= 0 {
		c.Limits.ImageGeneration = 100
	}
	if c.Limits.ScreenshotAnalysis <= 0 {
		c.Limits.ScreenshotAnalysis = 20
	}
	if c.Memory.RecentMessages <= 0 {
		c.Memory.RecentMessages = 10
	}
}
