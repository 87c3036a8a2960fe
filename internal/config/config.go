package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned when the selected agent provider has no API key.
var ErrMissingAPIKey = errors.New("missing required config")

const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

type Config struct {
	Server     ServerConfig
	Agent      AgentConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Registry   RegistryConfig
	Present    PresentConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
	// Token, when set, is required as a bearer token on every /v1 route.
	Token string
}

type AgentConfig struct {
	Provider      string
	Model         string
	HistoryWindow int
	Timeout       string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
}

type RegistryConfig struct {
	// SeedFile is a YAML seed. Empty selects the built-in demo registry.
	SeedFile string
}

type PresentConfig struct {
	Strict bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Agent: AgentConfig{
			Provider:      ProviderGemini,
			HistoryWindow: 10,
			Timeout:       "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// AgentTimeout returns the parsed agent.timeout, falling back to 30s when
// the value is not a positive duration.
func (c Config) AgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Load reads configuration from the JSON config file, MODELBENCH_*
// environment variables and the secrets file, in increasing priority for
// plain keys (env wins over file) and env-then-secrets-file for API keys.
// It fails when the selected provider has no API key.
func Load() (Config, error) {
	cfg, err := LoadUnchecked()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnchecked loads configuration without requiring API keys. CLI
// commands that only talk to a running server use it.
func LoadUnchecked() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	cfg.Agent.Provider = strings.ToLower(strings.TrimSpace(cfg.Agent.Provider))
	return cfg, nil
}

// Validate checks that the selected provider is known and has an API key.
func (c Config) Validate() error {
	var key, env string
	switch c.Agent.Provider {
	case ProviderGemini:
		key, env = c.Gemini.APIKey, "MODELBENCH_GEMINI_API_KEY"
	case ProviderOpenRouter:
		key, env = c.OpenRouter.APIKey, "MODELBENCH_OPENROUTER_API_KEY"
	default:
		return fmt.Errorf("unknown agent.provider %q (want %s or %s)", c.Agent.Provider, ProviderGemini, ProviderOpenRouter)
	}
	if key == "" {
		return fmt.Errorf("%w: %s API key. Set it via environment variable %s or `modelbench config set %s.api_key <key>`",
			ErrMissingAPIKey, c.Agent.Provider, env, c.Agent.Provider)
	}
	if c.Agent.HistoryWindow <= 0 {
		return fmt.Errorf("agent.history_window must be positive, got %d", c.Agent.HistoryWindow)
	}
	return nil
}

// DataDir is where runtime files such as the pid file and secrets live.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "modelbench-data"
		}
	}
	return filepath.Join(dir, "modelbench")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "modelbench", "config.json")
}
