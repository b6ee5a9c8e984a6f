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
	aliases []string // hosted-platform names, lower precedence than env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "TUTORD_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "TUTORD_SERVER_PORT", aliases: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.driver", typ: kString, env: "TUTORD_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TUTORD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "TUTORD_DATABASE_URL", aliases: []string{"DATABASE_URL"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "gateway.base_url", typ: kString, env: "TUTORD_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.api_key", typ: kString, env: "TUTORD_GATEWAY_API_KEY", aliases: []string{"LOVABLE_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.APIKey },
	},
	{
		key: "gateway.chat_model", typ: kString, env: "TUTORD_GATEWAY_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.ChatModel },
	},
	{
		key: "gateway.image_model", typ: kString, env: "TUTORD_GATEWAY_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.ImageModel },
	},
	{
		key: "retrieval.chunk_limit", typ: kInt, env: "TUTORD_RETRIEVAL_CHUNK_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkLimit },
	},
	{
		key: "retrieval.max_context_tokens", typ: kInt, env: "TUTORD_RETRIEVAL_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextTokens },
	},
	{
		key: "images.enabled", typ: kBool, env: "TUTORD_IMAGES_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Images.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Images.Enabled },
	},
	{
		key: "images.concurrency", typ: kInt, env: "TUTORD_IMAGES_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Images.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Images.Concurrency },
	},
	{
		key: "objectstore.backend", typ: kString, env: "TUTORD_OBJECTSTORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.Backend },
	},
	{
		key: "objectstore.bucket", typ: kString, env: "TUTORD_OBJECTSTORE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.Bucket },
	},
	{
		key: "objectstore.local_dir", typ: kString, env: "TUTORD_OBJECTSTORE_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.LocalDir },
	},
	{
		key: "objectstore.supabase_url", typ: kString, env: "TUTORD_SUPABASE_URL", aliases: []string{"SUPABASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.SupabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.SupabaseURL },
	},
	{
		key: "objectstore.supabase_key", typ: kString, env: "TUTORD_SUPABASE_KEY", aliases: []string{"SUPABASE_SERVICE_ROLE_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.SupabaseKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.SupabaseKey },
	},
	{
		key: "objectstore.gcs_credentials", typ: kString, env: "TUTORD_GCS_CREDENTIALS", aliases: []string{"GOOGLE_APPLICATION_CREDENTIALS"},
		apply:   func(cfg *Config, v any) { cfg.ObjectStore.GCSCredentials = v.(string) },
		extract: func(cfg Config) any { return cfg.ObjectStore.GCSCredentials },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "TUTORD_JWT_SECRET", aliases: []string{"SUPABASE_JWT_SECRET"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "log.level", typ: kString, env: "TUTORD_LOG_LEVEL",
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

// lookupEnv returns the first non-empty value among the key's primary
// variable and its aliases.
func (s keySpec) lookupEnv() (name, value string) {
	for _, n := range append([]string{s.env}, s.aliases...) {
		if n == "" {
			continue
		}
		if v := os.Getenv(n); v != "" {
			return n, v
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
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
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}
