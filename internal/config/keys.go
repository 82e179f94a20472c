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
		key: "server.port", typ: kInt, env: "LANTERN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "identity.base_url", typ: kString, env: "LANTERN_IDENTITY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Identity.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.BaseURL },
	},
	{
		key: "identity.access_token", typ: kString, env: "LANTERN_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Identity.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.AccessToken },
	},
	{
		key: "datastore.base_url", typ: kString, env: "LANTERN_DATASTORE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.DataStore.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.DataStore.BaseURL },
	},
	{
		key: "theme.default", typ: kString, env: "LANTERN_THEME_DEFAULT",
		apply:   func(cfg *Config, v any) { cfg.Theme.Default = v.(string) },
		extract: func(cfg Config) any { return cfg.Theme.Default },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LANTERN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "LANTERN_LOG_LEVEL",
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
		}
	}
}
