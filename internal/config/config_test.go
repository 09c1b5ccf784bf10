package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass", Name: "db", SSLMode: "disable"}
	want := "host=localhost port=5432 user=user password=pass dbname=db sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Fatalf("connection string mismatch: %s", got)
	}
}

func TestNew(t *testing.T) {
	cfg := New()
	if cfg == nil {
		t.Fatal("New() should return non-nil config")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected default driver postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.World.TickIntervalMS != 10000 {
		t.Errorf("expected default tick interval 10000, got %d", cfg.World.TickIntervalMS)
	}
	if cfg.World.MaxInteractionsPerTick != 4 {
		t.Errorf("expected default interaction budget 4, got %d", cfg.World.MaxInteractionsPerTick)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(path, []byte(`{invalid json}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFile_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  host: "192.168.1.1"
  port: 9000
database:
  host: "db.example.com"
  port: 5432
  user: "admin"
  password: "secret"
  name: "testdb"
  sslmode: "require"
logging:
  level: "debug"
  format: "json"
world:
  tick_interval_ms: 5000
  max_ap: 20
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Server.Host != "192.168.1.1" {
		t.Errorf("expected host 192.168.1.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected database host db.example.com, got %s", cfg.Database.Host)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format json, got %s", cfg.Logging.Format)
	}
	if cfg.World.TickIntervalMS != 5000 {
		t.Errorf("expected tick interval override 5000, got %d", cfg.World.TickIntervalMS)
	}
	if cfg.World.MaxAP != 20 {
		t.Errorf("expected max ap override 20, got %d", cfg.World.MaxAP)
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(path, []byte(`{not: valid: yaml:`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadFile should not error on missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.local")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("DATABASE_HOST", "db.test.local")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Host != "test.local" {
		t.Errorf("expected SERVER_HOST override test.local, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected SERVER_PORT override 3000, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.test.local" {
		t.Errorf("expected DATABASE_HOST override db.test.local, got %s", cfg.Database.Host)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected LOG_LEVEL override warn, got %s", cfg.Logging.Level)
	}
}

func TestLoad_AppliesDatabaseURLEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `database: { dsn: "postgres://file-dsn" }`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env-dsn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Database.DSN != "postgres://env-dsn" {
		t.Fatalf("expected DATABASE_URL override, got %q", cfg.Database.DSN)
	}
}

func TestLoadConfig_AllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full_config.json")
	jsonContent := `{
		"server": {"host": "test", "port": 5000},
		"database": {
			"driver": "mysql",
			"dsn": "mysql://localhost/test",
			"max_open_conns": 20
		},
		"logging": {
			"level": "error",
			"format": "json",
			"file_prefix": "test-app"
		},
		"security": {
			"secret_encryption_key": "test-key-123"
		},
		"auth": {
			"tokens": ["token1", "token2"]
		},
		"world": {
			"max_containment_depth": 7
		}
	}`
	if err := os.WriteFile(path, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Server.Host != "test" || cfg.Server.Port != 5000 {
		t.Errorf("server mismatch: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.DSN != "mysql://localhost/test" {
		t.Errorf("database mismatch: %+v", cfg.Database)
	}
	if cfg.Logging.FilePrefix != "test-app" {
		t.Errorf("logging file_prefix mismatch")
	}
	if cfg.Security.SecretEncryptionKey != "test-key-123" {
		t.Errorf("security secret_encryption_key mismatch")
	}
	if len(cfg.Auth.Tokens) != 2 || cfg.Auth.Tokens[0] != "token1" {
		t.Errorf("auth tokens mismatch: %+v", cfg.Auth.Tokens)
	}
	if cfg.World.MaxContainmentDepth != 7 {
		t.Errorf("world max_containment_depth mismatch")
	}
}
