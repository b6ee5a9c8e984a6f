package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Gateway     GatewayConfig
	Retrieval   RetrievalConfig
	Images      ImagesConfig
	ObjectStore ObjectStoreConfig
	Auth        AuthConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	Driver      string // "sqlite" or "postgres"
	DataDir     string
	DatabaseURL string
}

type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	ImageModel string
}

type RetrievalConfig struct {
	ChunkLimit       int
	MaxContextTokens int
}

type ImagesConfig struct {
	Enabled     bool
	Concurrency int
}

type ObjectStoreConfig struct {
	Backend        string // "local", "supabase" or "gcs"
	Bucket         string
	LocalDir       string
	SupabaseURL    string
	SupabaseKey    string
	GCSCredentials string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: dataDir,
		},
		Gateway: GatewayConfig{
			BaseURL:    "https://ai.gateway.lovable.dev/v1",
			ChatModel:  "google/gemini-2.5-flash",
			ImageModel: "google/gemini-2.5-flash-image-preview",
		},
		Retrieval: RetrievalConfig{
			ChunkLimit:       5,
			MaxContextTokens: 4000,
		},
		Images: ImagesConfig{
			Enabled:     true,
			Concurrency: 2,
		},
		ObjectStore: ObjectStoreConfig{
			Backend:  "local",
			Bucket:   "textbooks",
			LocalDir: dataDir + string(os.PathSeparator) + "objects",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML config file, a .env file in the
// working directory, and environment variables, in increasing precedence.
//
// The config file lives at $XDG_CONFIG_HOME/tutord/config.yaml. Environment
// variables (TUTORD_*) override file values; the hosted-platform names
// LOVABLE_API_KEY, SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY,
// SUPABASE_JWT_SECRET and DATABASE_URL are honoured as well.
//
// A missing gateway API key is an error.
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

// LoadUnchecked is Load without the required-secret check. Commands that
// never talk to the gateway (migrate, stop, status) use it.
func LoadUnchecked() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadFromPath(path string) (Config, error) {
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "postgres" {
		return Config{}, fmt.Errorf("invalid storage.driver %q: want sqlite or postgres", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: storage.database_url (TUTORD_DATABASE_URL or DATABASE_URL) for postgres driver")
	}

	return cfg, nil
}

// Validate reports missing secrets required to serve chat and quiz traffic.
func (c Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("missing required config: gateway API key. " +
			"Set it via environment variable TUTORD_GATEWAY_API_KEY or LOVABLE_API_KEY")
	}
	return nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}
