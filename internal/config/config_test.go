package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every variable a config key reads so the host environment cannot leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		for _, a := range s.aliases {
			t.Setenv(a, "")
		}
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TUTORD_GATEWAY_API_KEY", "test-key")
	path := writeTempConfig(t, "# empty\n")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Gateway.BaseURL != "https://ai.gateway.lovable.dev/v1" {
		t.Errorf("Gateway.BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.ChatModel != "google/gemini-2.5-flash" {
		t.Errorf("Gateway.ChatModel = %q, want %q", cfg.Gateway.ChatModel, "google/gemini-2.5-flash")
	}
	if cfg.Retrieval.ChunkLimit != 5 {
		t.Errorf("Retrieval.ChunkLimit = %d, want 5", cfg.Retrieval.ChunkLimit)
	}
	if !cfg.Images.Enabled {
		t.Error("Images.Enabled = false, want true")
	}
	if cfg.ObjectStore.Backend != "local" {
		t.Errorf("ObjectStore.Backend = %q, want local", cfg.ObjectStore.Backend)
	}
	if cfg.ObjectStore.Bucket != "textbooks" {
		t.Errorf("ObjectStore.Bucket = %q, want textbooks", cfg.ObjectStore.Bucket)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "server:\n  port: 5000\n")

	t.Setenv("TUTORD_GATEWAY_API_KEY", "env-key")
	t.Setenv("TUTORD_SERVER_PORT", "6000")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.APIKey != "env-key" {
		t.Errorf("Gateway.APIKey = %q, want %q", cfg.Gateway.APIKey, "env-key")
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
}

// TestPlatformAliases verifies the hosted-platform variable names are honoured.
func TestPlatformAliases(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "")

	t.Setenv("LOVABLE_API_KEY", "lovable-key")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "lovable-key" {
		t.Errorf("Gateway.APIKey = %q, want %q", cfg.Gateway.APIKey, "lovable-key")
	}
	if cfg.ObjectStore.SupabaseURL != "https://proj.supabase.co" {
		t.Errorf("ObjectStore.SupabaseURL = %q", cfg.ObjectStore.SupabaseURL)
	}
	if cfg.ObjectStore.SupabaseKey != "service-role" {
		t.Errorf("ObjectStore.SupabaseKey = %q", cfg.ObjectStore.SupabaseKey)
	}
}

// TestPrimaryEnvBeatsAlias verifies TUTORD_* wins over the platform alias.
func TestPrimaryEnvBeatsAlias(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "")

	t.Setenv("LOVABLE_API_KEY", "alias")
	t.Setenv("TUTORD_GATEWAY_API_KEY", "primary")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "primary" {
		t.Errorf("Gateway.APIKey = %q, want %q", cfg.Gateway.APIKey, "primary")
	}
}

// TestMissingRequiredField verifies a clear error when the API key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty config`)

	_, err := loadFromPath(path)
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}

	want := "missing required config"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error = %q, want it to contain %q", got, want)
	}
}

// TestSecretsIgnoredInFile verifies secrets in the config file are not read.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "gateway:\n  api_key: from-file\n")

	if _, err := loadFromPath(path); err == nil {
		t.Fatal("expected missing key error, secret must not be read from file")
	}
}

// TestYAMLParsing verifies that all fields are correctly read from a YAML file.
func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
server:
  host: 0.0.0.0
  port: 5000
storage:
  data_dir: /tmp/tutord-test
gateway:
  base_url: http://gateway.local/v1
  chat_model: custom-chat
  image_model: custom-image
retrieval:
  chunk_limit: 3
images:
  enabled: false
  concurrency: 4
objectstore:
  backend: gcs
  bucket: books
log:
  level: debug
`
	path := writeTempConfig(t, content)
	t.Setenv("TUTORD_GATEWAY_API_KEY", "k")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/tutord-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Gateway.BaseURL != "http://gateway.local/v1" {
		t.Errorf("Gateway.BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.ChatModel != "custom-chat" || cfg.Gateway.ImageModel != "custom-image" {
		t.Errorf("Gateway models = %q, %q", cfg.Gateway.ChatModel, cfg.Gateway.ImageModel)
	}
	if cfg.Retrieval.ChunkLimit != 3 {
		t.Errorf("Retrieval.ChunkLimit = %d, want 3", cfg.Retrieval.ChunkLimit)
	}
	if cfg.Images.Enabled {
		t.Error("Images.Enabled = true, want false")
	}
	if cfg.Images.Concurrency != 4 {
		t.Errorf("Images.Concurrency = %d, want 4", cfg.Images.Concurrency)
	}
	if cfg.ObjectStore.Backend != "gcs" || cfg.ObjectStore.Bucket != "books" {
		t.Errorf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestPostgresRequiresURL(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "storage:\n  driver: postgres\n")
	t.Setenv("TUTORD_GATEWAY_API_KEY", "k")

	if _, err := loadFromPath(path); err == nil {
		t.Fatal("expected error for postgres without database_url")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/tutor")
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DatabaseURL != "postgres://localhost/tutor" {
		t.Errorf("Storage.DatabaseURL = %q", cfg.Storage.DatabaseURL)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "7000"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "images.enabled", "false"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "gateway.api_key", "x"); err == nil {
		t.Error("setKey on secret: expected error")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("setKey on unknown key: expected error")
	}

	t.Setenv("TUTORD_GATEWAY_API_KEY", "k")
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Images.Enabled {
		t.Error("Images.Enabled = true, want false")
	}
}

func TestSetKeyRejectsBadValues(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	cases := map[string][2]string{
		"int":    {"server.port", "eighty"},
		"bool":   {"images.enabled", "sometimes"},
		"secret": {"gateway.api_key", "k"},
	}
	for name, kv := range cases {
		err := setKey(b, kv[0], kv[1])
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !strings.Contains(err.Error(), kv[0]) {
			t.Errorf("%s: error %q does not name the key", name, err)
		}
	}
	if err := setKey(b, "gateway.api_key", "k"); !strings.Contains(err.Error(), "TUTORD_GATEWAY_API_KEY") {
		t.Errorf("secret error should point at the env var, got %q", err)
	}
}

func TestShowAllAliases(t *testing.T) {
	settings := ShowAll(defaults())
	if keys := ValidKeys(); len(keys) != len(settings) {
		t.Errorf("ValidKeys has %d keys, ShowAll %d", len(keys), len(settings))
	}
	for _, s := range settings {
		if s.Key != "server.port" {
			continue
		}
		if s.Env != "TUTORD_SERVER_PORT" || len(s.Aliases) != 1 || s.Aliases[0] != "PORT" {
			t.Errorf("server.port setting = %+v", s)
		}
		return
	}
	t.Error("server.port missing from ShowAll")
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Gateway.APIKey = "super-secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "super-secret") {
			t.Errorf("ShowAll leaked secret under %s", k.Key)
		}
	}
}
