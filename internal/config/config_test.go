package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeBackend serves string values from a map; ints and floats parse out of
// the same strings the way the file backend stores them.
type fakeBackend struct {
	values map[string]string
	err    error
}

func (b *fakeBackend) GetString(key string) (string, bool, error) {
	if b.err != nil {
		return "", false, b.err
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fakeBackend) GetInt(key string) (int, bool, error) {
	if b.err != nil {
		return 0, false, b.err
	}
	v, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return i, true, nil
}

func (b *fakeBackend) SetString(key, val string) error {
	if b.values == nil {
		b.values = map[string]string{}
	}
	b.values[key] = val
	return nil
}

func (b *fakeBackend) SetInt(key string, val int) error {
	return b.SetString(key, strconv.Itoa(val))
}

func (b *fakeBackend) Delete(key string) error {
	delete(b.values, key)
	return nil
}

type fakeKeychain struct {
	secrets map[string]string
}

func (k *fakeKeychain) Get(service, account string) (string, error) {
	v, ok := k.secrets[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(&fakeBackend{}, &fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Extractor.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", cfg.Extractor.Provider)
	}
	if cfg.Ollama.Model != "phi3.5" {
		t.Errorf("model = %q", cfg.Ollama.Model)
	}
	if cfg.Heartbeat.Concurrency != 4 || cfg.Heartbeat.RecencyFloor != 0.6 {
		t.Errorf("heartbeat defaults = %+v", cfg.Heartbeat)
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := &fakeBackend{values: map[string]string{
		"server.port":                 "9999",
		"ollama.model":                "llama3.2",
		"heartbeat.interval":          "5m",
		"heartbeat.confidence_margin": "0.15",
	}}
	cfg, err := loadWith(b, &fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("model = %q", cfg.Ollama.Model)
	}
	if cfg.Heartbeat.Interval != "5m" {
		t.Errorf("interval = %q", cfg.Heartbeat.Interval)
	}
	if cfg.Heartbeat.ConfidenceMargin != 0.15 {
		t.Errorf("margin = %v", cfg.Heartbeat.ConfidenceMargin)
	}
}

func TestLoadEnvOverridesBackend(t *testing.T) {
	t.Setenv("FACTBEAT_OLLAMA_MODEL", "qwen2.5")
	t.Setenv("FACTBEAT_SERVER_PORT", "4700")
	t.Setenv("FACTBEAT_HEARTBEAT_RECENCY_FLOOR", "0.8")

	b := &fakeBackend{values: map[string]string{
		"ollama.model": "llama3.2",
		"server.port":  "9999",
	}}
	cfg, err := loadWith(b, &fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Ollama.Model != "qwen2.5" {
		t.Errorf("model = %q, env must win over backend", cfg.Ollama.Model)
	}
	if cfg.Server.Port != 4700 {
		t.Errorf("port = %d, env must win over backend", cfg.Server.Port)
	}
	if cfg.Heartbeat.RecencyFloor != 0.8 {
		t.Errorf("recency floor = %v", cfg.Heartbeat.RecencyFloor)
	}
}

func TestLoadMalformedEnvIgnored(t *testing.T) {
	t.Setenv("FACTBEAT_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(&fakeBackend{}, &fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want default kept on parse failure", cfg.Server.Port)
	}
}

func TestLoadOpenRouterRequiresKey(t *testing.T) {
	b := &fakeBackend{values: map[string]string{"extractor.provider": "openrouter"}}

	_, err := loadWith(b, &fakeKeychain{})
	if err == nil {
		t.Fatal("expected error for openrouter without API key")
	}
	if !strings.Contains(err.Error(), "FACTBEAT_OPENROUTER_API_KEY") {
		t.Errorf("error should name the env var: %v", err)
	}
}

func TestLoadOpenRouterKeyFromKeychain(t *testing.T) {
	b := &fakeBackend{values: map[string]string{"extractor.provider": "openrouter"}}
	kc := &fakeKeychain{secrets: map[string]string{"openrouter_api_key": "sk-or-abc"}}

	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.OpenRouter.APIKey != "sk-or-abc" {
		t.Errorf("api key = %q", cfg.OpenRouter.APIKey)
	}
}

func TestLoadOpenRouterKeyFromEnv(t *testing.T) {
	t.Setenv("FACTBEAT_OPENROUTER_API_KEY", "sk-or-env")

	b := &fakeBackend{values: map[string]string{"extractor.provider": "openrouter"}}
	cfg, err := loadWith(b, &fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.OpenRouter.APIKey != "sk-or-env" {
		t.Errorf("api key = %q", cfg.OpenRouter.APIKey)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	b := &fakeBackend{values: map[string]string{"extractor.provider": "gpt4all"}}
	if _, err := loadWith(b, &fakeKeychain{}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadBackendError(t *testing.T) {
	b := &fakeBackend{err: errors.New("defaults domain unreadable")}
	if _, err := loadWith(b, &fakeKeychain{}); err == nil {
		t.Error("expected backend errors to surface")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaults()
	if got := cfg.ExtractTimeout(); got != 15*time.Second {
		t.Errorf("ExtractTimeout = %v", got)
	}
	if got := cfg.HeartbeatInterval(); got != 15*time.Minute {
		t.Errorf("HeartbeatInterval = %v", got)
	}

	cfg.Extractor.Timeout = "30s"
	cfg.Heartbeat.Interval = "1h"
	if got := cfg.ExtractTimeout(); got != 30*time.Second {
		t.Errorf("ExtractTimeout = %v", got)
	}
	if got := cfg.HeartbeatInterval(); got != time.Hour {
		t.Errorf("HeartbeatInterval = %v", got)
	}

	cfg.Extractor.Timeout = "soon"
	cfg.Heartbeat.Interval = "-5m"
	if got := cfg.ExtractTimeout(); got != 15*time.Second {
		t.Errorf("malformed timeout fell back to %v", got)
	}
	if got := cfg.HeartbeatInterval(); got != 15*time.Minute {
		t.Errorf("negative interval fell back to %v", got)
	}
}
