package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for deskhand.
type Config struct {
	Models  ModelsConfig  `yaml:"models"`
	Memory  MemoryConfig  `yaml:"memory"`
	Routing RoutingConfig `yaml:"routing"`
	Tickets TicketsConfig `yaml:"tickets"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ModelsConfig names the two model tiers and their providers.
type ModelsConfig struct {
	Capable   ModelConfig     `yaml:"capable"`
	Cheap     ModelConfig     `yaml:"cheap"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

// ModelConfig identifies a single model tier.
type ModelConfig struct {
	Provider  string  `yaml:"provider"`
	Model     string  `yaml:"model"`
	MaxTokens int     `yaml:"max_tokens"`
	Temp      float64 `yaml:"temperature"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig controls the conversation window.
type MemoryConfig struct {
	WindowSize int `yaml:"window_size"`
}

// RoutingConfig controls the complexity classifier.
type RoutingConfig struct {
	UseLLMClassifier bool `yaml:"use_llm_classifier"`
}

// TicketsConfig points at the ticket API the tool dispatcher calls.
type TicketsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Bind            string        `yaml:"bind"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
}

// StorageConfig controls the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// NotifyConfig controls outbound notifications.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	NATSURL         string `yaml:"nats_url"`
	NATSSubject     string `yaml:"nats_subject"`
}

// Default returns a Config with sensible defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".deskhand")

	return &Config{
		Models: ModelsConfig{
			Capable: ModelConfig{
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
				Temp:      0.7,
			},
			Cheap: ModelConfig{
				Provider:  "ollama",
				Model:     "llama3.2",
				MaxTokens: 1024,
				Temp:      0.3,
			},
			Anthropic: AnthropicConfig{
				BaseURL: "https://api.anthropic.com",
				Timeout: 120 * time.Second,
			},
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Timeout: 120 * time.Second,
			},
		},
		Memory: MemoryConfig{
			WindowSize: 20,
		},
		Routing: RoutingConfig{
			UseLLMClassifier: false,
		},
		Tickets: TicketsConfig{
			Endpoint: "http://localhost:8080",
			Timeout:  30 * time.Second,
		},
		Server: ServerConfig{
			Bind:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RequestsPerSec:  20,
			Burst:           40,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dataDir, "deskhand.db"),
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(dataDir, "logs"),
			Level: "info",
		},
		Notify: NotifyConfig{
			NATSSubject: "deskhand.tickets",
		},
	}
}

// Load reads configuration from path (if it exists), applies environment
// overrides, and validates the result. An empty path means defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Models.Anthropic.APIKey = v
	}
	if v := os.Getenv("DESKHAND_CAPABLE_MODEL"); v != "" {
		c.Models.Capable.Model = v
	}
	if v := os.Getenv("DESKHAND_CHEAP_MODEL"); v != "" {
		c.Models.Cheap.Model = v
	}
	if v := os.Getenv("DESKHAND_OLLAMA_URL"); v != "" {
		c.Models.Ollama.BaseURL = v
	}
	if v := os.Getenv("DESKHAND_TICKET_ENDPOINT"); v != "" {
		c.Tickets.Endpoint = v
	}
	if v := os.Getenv("DESKHAND_TICKET_API_KEY"); v != "" {
		c.Tickets.APIKey = v
	}
	if v := os.Getenv("DESKHAND_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("DESKHAND_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DESKHAND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DESKHAND_MEMORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Memory.WindowSize = n
		}
	}
	if v := os.Getenv("DESKHAND_USE_LLM_ROUTER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Routing.UseLLMClassifier = b
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Notify.NATSURL = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Memory.WindowSize <= 0 {
		return fmt.Errorf("memory.window_size must be positive, got %d", c.Memory.WindowSize)
	}
	if c.Models.Capable.Model == "" {
		return fmt.Errorf("models.capable.model is required")
	}
	if c.Models.Cheap.Model == "" {
		return fmt.Errorf("models.cheap.model is required")
	}
	switch c.Models.Capable.Provider {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("models.capable.provider must be anthropic or ollama, got %q", c.Models.Capable.Provider)
	}
	switch c.Models.Cheap.Provider {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("models.cheap.provider must be anthropic or ollama, got %q", c.Models.Cheap.Provider)
	}
	if c.Tickets.Timeout <= 0 {
		return fmt.Errorf("tickets.timeout must be positive")
	}
	return nil
}
