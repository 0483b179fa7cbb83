package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FACTBEAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "extractor.provider", typ: kString, env: "FACTBEAT_EXTRACTOR_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Provider },
	},
	{
		key: "extractor.timeout", typ: kString, env: "FACTBEAT_EXTRACTOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Extractor.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Extractor.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FACTBEAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "FACTBEAT_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "FACTBEAT_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.model", typ: kString, env: "FACTBEAT_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FACTBEAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "heartbeat.interval", typ: kString, env: "FACTBEAT_HEARTBEAT_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Heartbeat.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Heartbeat.Interval },
	},
	{
		key: "heartbeat.concurrency", typ: kInt, env: "FACTBEAT_HEARTBEAT_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Heartbeat.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Heartbeat.Concurrency },
	},
	{
		key: "heartbeat.confidence_margin", typ: kFloat, env: "FACTBEAT_HEARTBEAT_CONFIDENCE_MARGIN",
		apply:   func(cfg *Config, v any) { cfg.Heartbeat.ConfidenceMargin = v.(float64) },
		extract: func(cfg Config) any { return cfg.Heartbeat.ConfidenceMargin },
	},
	{
		key: "heartbeat.recency_floor", typ: kFloat, env: "FACTBEAT_HEARTBEAT_RECENCY_FLOOR",
		apply:   func(cfg *Config, v any) { cfg.Heartbeat.RecencyFloor = v.(float64) },
		extract: func(cfg Config) any { return cfg.Heartbeat.RecencyFloor },
	},
	{
		key: "log.level", typ: kString, env: "FACTBEAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
