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
	kBool
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
		key: "server.port", typ: kInt, env: "MODELBENCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "MODELBENCH_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "agent.provider", typ: kString, env: "MODELBENCH_AGENT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Agent.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Provider },
	},
	{
		key: "agent.model", typ: kString, env: "MODELBENCH_AGENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Agent.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Model },
	},
	{
		key: "agent.history_window", typ: kInt, env: "MODELBENCH_AGENT_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Agent.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.HistoryWindow },
	},
	{
		key: "agent.timeout", typ: kString, env: "MODELBENCH_AGENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Timeout },
	},
	{
		key: "gemini.api_key", typ: kString, env: "MODELBENCH_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "MODELBENCH_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "MODELBENCH_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "MODELBENCH_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "registry.seed_file", typ: kString, env: "MODELBENCH_REGISTRY_SEED_FILE",
		apply:   func(cfg *Config, v any) { cfg.Registry.SeedFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.SeedFile },
	},
	{
		key: "present.strict", typ: kBool, env: "MODELBENCH_PRESENT_STRICT",
		apply:   func(cfg *Config, v any) { cfg.Present.Strict = v.(bool) },
		extract: func(cfg Config) any { return cfg.Present.Strict },
	},
	{
		key: "log.level", typ: kString, env: "MODELBENCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
