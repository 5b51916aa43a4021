// Package config loads the toolhost configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend identifiers accepted in the llm section.
const (
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

// ToolServer describes one configured tool server location.
type ToolServer struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Path        string `yaml:"path,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// OllamaConfig holds settings for the Ollama backend.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GeminiConfig holds settings for the Gemini backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LLMConfig selects and configures the language-model backend.
type LLMConfig struct {
	Backend string       `yaml:"backend"`
	Ollama  OllamaConfig `yaml:"ollama"`
	Gemini  GeminiConfig `yaml:"gemini"`
}

// Config is the full toolhost configuration.
type Config struct {
	// Listen is the address the host binds for clients and the HTTP API.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db"`
	// HistoryWindow is how many trailing messages are sent to the backend.
	HistoryWindow int `yaml:"history_window"`
	// SerializeInvocations keeps at most one in-flight tool call per session.
	SerializeInvocations bool `yaml:"serialize_invocations"`

	LLM         LLMConfig    `yaml:"llm"`
	ToolServers []ToolServer `yaml:"tool_servers"`
}

// Default returns the baseline configuration before file and env overlays.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Listen:               "127.0.0.1:8765",
		DBPath:               filepath.Join(home, ".toolhost", "toolhost.db"),
		HistoryWindow:        5,
		SerializeInvocations: true,
		LLM: LLMConfig{
			Backend: BackendOllama,
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Model:   "deepseek-r1:latest",
			},
			Gemini: GeminiConfig{
				Model: "gemini-pro",
			},
		},
	}
}

// Load reads the config file at path, overlays it on the defaults and
// then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment. The GEMINI_*
// and OLLAMA_* names match what the tool servers' launcher scripts
// already export.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOOLHOST_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("TOOLHOST_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TOOLHOST_BACKEND"); v != "" {
		c.LLM.Backend = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.LLM.Gemini.Model = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.LLM.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.LLM.Ollama.Model = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("history_window must be at least 1")
	}

	switch c.LLM.Backend {
	case BackendOllama:
		if c.LLM.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama.base_url cannot be empty")
		}
		if c.LLM.Ollama.Model == "" {
			return fmt.Errorf("ollama.model cannot be empty")
		}
	case BackendGemini:
		if c.LLM.Gemini.Model == "" {
			return fmt.Errorf("gemini.model cannot be empty")
		}
	default:
		return fmt.Errorf("invalid backend %q, must be: %s or %s", c.LLM.Backend, BackendOllama, BackendGemini)
	}

	seen := make(map[string]bool)
	for _, srv := range c.ToolServers {
		if srv.Name == "" {
			return fmt.Errorf("tool server name cannot be empty")
		}
		if srv.URL == "" {
			return fmt.Errorf("tool server %q has no url", srv.Name)
		}
		if seen[srv.Name] {
			return fmt.Errorf("duplicate tool server name %q", srv.Name)
		}
		seen[srv.Name] = true
	}
	return nil
}

// Save writes the configuration to a YAML file, creating parent
// directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
