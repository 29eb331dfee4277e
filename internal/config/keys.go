package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
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
		key: "server.port", typ: kInt, env: "KINEMA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "mistral.api_key", typ: kString, env: "KINEMA_MISTRAL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Mistral.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Mistral.APIKey },
	},
	{
		key: "mistral.model", typ: kString, env: "KINEMA_MISTRAL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Mistral.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Mistral.Model },
	},
	{
		key: "mistral.base_url", typ: kString, env: "KINEMA_MISTRAL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Mistral.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Mistral.BaseURL },
	},
	{
		key: "render.binary", typ: kString, env: "KINEMA_RENDER_BINARY",
		apply:   func(cfg *Config, v any) { cfg.Render.Binary = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.Binary },
	},
	{
		key: "render.media_dir", typ: kString, env: "KINEMA_RENDER_MEDIA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Render.MediaDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.MediaDir },
	},
	{
		key: "render.script_dir", typ: kString, env: "KINEMA_RENDER_SCRIPT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Render.ScriptDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.ScriptDir },
	},
	{
		key: "render.artifact_dir", typ: kString, env: "KINEMA_RENDER_ARTIFACT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Render.ArtifactDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.ArtifactDir },
	},
	{
		key: "render.timeout", typ: kDuration, env: "KINEMA_RENDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Render.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Render.Timeout },
	},
	{
		key: "probe.interval", typ: kDuration, env: "KINEMA_PROBE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Probe.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Probe.Interval },
	},
	{
		key: "probe.timeout", typ: kDuration, env: "KINEMA_PROBE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Probe.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Probe.Timeout },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "KINEMA_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.backoff_unit", typ: kDuration, env: "KINEMA_RETRY_BACKOFF_UNIT",
		apply:   func(cfg *Config, v any) { cfg.Retry.BackoffUnit = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.BackoffUnit },
	},
	{
		key: "retry.backoff_cap", typ: kDuration, env: "KINEMA_RETRY_BACKOFF_CAP",
		apply:   func(cfg *Config, v any) { cfg.Retry.BackoffCap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.BackoffCap },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KINEMA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "KINEMA_LOG_LEVEL",
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
