package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Extractor  ExtractorConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Storage    StorageConfig
	Heartbeat  HeartbeatConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

// ExtractorConfig selects which chat backend performs fact extraction.
type ExtractorConfig struct {
	// Provider is "ollama" (local, default) or "openrouter" (cloud).
	Provider string
	// Timeout bounds a single extraction call, e.g. "15s".
	Timeout string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenRouterConfig struct {
	APIKey string
	Model  string
}

type StorageConfig struct {
	DataDir string
}

type HeartbeatConfig struct {
	// Interval between scheduled runs per user, e.g. "15m".
	Interval string
	// Concurrency bounds parallel extraction calls within one run.
	Concurrency int
	// ConfidenceMargin and RecencyFloor tune supersession arbitration.
	ConfidenceMargin float64
	RecencyFloor     float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Extractor: ExtractorConfig{
			Provider: "ollama",
			Timeout:  "15s",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "phi3.5",
		},
		OpenRouter: OpenRouterConfig{
			Model: "anthropic/claude-opus-4",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Heartbeat: HeartbeatConfig{
			Interval:         "15m",
			Concurrency:      4,
			ConfidenceMargin: 0,
			RecencyFloor:     0.6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.factbeat.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/factbeat/config.json
// and secrets live in a mode-0600 JSON file under $XDG_DATA_HOME.
//
// Environment variables (FACTBEAT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.OpenRouter.APIKey == "" {
		if key, err := kc.Get(serviceName, "openrouter_api_key"); err == nil && key != "" {
			cfg.OpenRouter.APIKey = key
		}
	}

	if cfg.Extractor.Provider == "openrouter" && cfg.OpenRouter.APIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable FACTBEAT_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}
	if cfg.Extractor.Provider != "ollama" && cfg.Extractor.Provider != "openrouter" {
		return Config{}, fmt.Errorf("unknown extractor provider %q (want ollama or openrouter)", cfg.Extractor.Provider)
	}

	return cfg, nil
}

// ExtractTimeout parses the extraction timeout, falling back to 15s on a
// malformed value.
func (c Config) ExtractTimeout() time.Duration {
	d, err := time.ParseDuration(c.Extractor.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// HeartbeatInterval parses the scheduling interval, falling back to 15m on a
// malformed value.
func (c Config) HeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.Heartbeat.Interval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
