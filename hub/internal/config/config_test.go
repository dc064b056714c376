package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configJSON := `{
		"server": {
			"addr": ":8080",
			"allowed_origins": ["http://localhost:5173"]
		},
		"auth": {
			"jwt_secret": "my-super-secret-jwt-key-at-least-32",
			"jwt_expiry": "2h"
		},
		"storage": {
			"driver": "sqlite",
			"dsn": "test.db"
		},
		"session": {
			"max_message_bytes": 32768,
			"max_conns_per_user": 3,
			"messages_per_second": 5,
			"message_burst": 10
		},
		"generation": {
			"provider": "openai",
			"model": "gpt-4o-mini",
			"timeout": "15s",
			"max_concurrent": 2
		},
		"logging": {
			"level": "debug",
			"format": "text"
		},
		"rate_limit": {
			"requests_per_second": 20,
			"burst": 40
		}
	}`

	path := writeTempConfig(t, "config.json", configJSON)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr: got %q, want %q", cfg.Server.Addr, ":8080")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("Server.AllowedOrigins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.Provider != "hs256" {
		t.Errorf("Auth.Provider: got %q, want hs256", cfg.Auth.Provider)
	}
	if cfg.Auth.JWTExpiry.Duration != 2*time.Hour {
		t.Errorf("Auth.JWTExpiry: got %v, want 2h", cfg.Auth.JWTExpiry.Duration)
	}
	if cfg.Storage.DSN != "test.db" {
		t.Errorf("Storage.DSN: got %q, want %q", cfg.Storage.DSN, "test.db")
	}
	if cfg.Session.MaxMessageBytes != 32768 {
		t.Errorf("Session.MaxMessageBytes: got %d, want 32768", cfg.Session.MaxMessageBytes)
	}
	if cfg.Session.MaxConnsPerUser != 3 {
		t.Errorf("Session.MaxConnsPerUser: got %d, want 3", cfg.Session.MaxConnsPerUser)
	}
	if cfg.Session.MessagesPerSecond != 5 || cfg.Session.MessageBurst != 10 {
		t.Errorf("Session rate: got %v/%d, want 5/10", cfg.Session.MessagesPerSecond, cfg.Session.MessageBurst)
	}
	if cfg.Generation.Provider != "openai" {
		t.Errorf("Generation.Provider: got %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout.Duration != 15*time.Second {
		t.Errorf("Generation.Timeout: got %v, want 15s", cfg.Generation.Timeout.Duration)
	}
	if cfg.Generation.MaxConcurrent != 2 {
		t.Errorf("Generation.MaxConcurrent: got %d, want 2", cfg.Generation.MaxConcurrent)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.RateLimit.RequestsPerSecond != 20 || cfg.RateLimit.Burst != 40 {
		t.Errorf("RateLimit: got %f/%d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
}

func TestLoadTOML(t *testing.T) {
	configTOML := `
[server]
addr = ":9090"

[auth]
jwt_secret = "toml-secret-that-is-at-least-32-chars"

[storage]
driver = "mongo"
dsn = "mongodb://db:27017"
database = "collab"

[generation]
provider = "anthropic"
timeout = "45s"
`
	path := writeTempConfig(t, "hub.toml", configTOML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "mongo" || cfg.Storage.Database != "collab" {
		t.Errorf("Storage: got %q/%q", cfg.Storage.Driver, cfg.Storage.Database)
	}
	if cfg.Generation.Provider != "anthropic" {
		t.Errorf("Generation.Provider: got %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout.Duration != 45*time.Second {
		t.Errorf("Generation.Timeout: got %v, want 45s", cfg.Generation.Timeout.Duration)
	}
}

func TestValidateRequired(t *testing.T) {
	cases := map[string]string{
		"missing addr":     `{"server": {}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}}`,
		"missing secret":   `{"server": {"addr": ":8080"}, "auth": {}}`,
		"short secret":     `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "short"}}`,
		"jwks without url": `{"server": {"addr": ":8080"}, "auth": {"provider": "jwks"}}`,
		"unknown driver":   `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "storage": {"driver": "redis"}}`,
		"unknown provider": `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "generation": {"provider": "llama"}}`,
		"postgres no dsn":  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "storage": {"driver": "postgres"}}`,

		"negative max_concurrent":      `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "generation": {"max_concurrent": -1}}`,
		"negative timeout":             `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "generation": {"timeout": "-5s"}}`,
		"negative max_message_bytes":   `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "session": {"max_message_bytes": -1}}`,
		"negative max_conns_per_user":  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "session": {"max_conns_per_user": -2}}`,
		"negative outbound_queue":      `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "session": {"outbound_queue": -1}}`,
		"negative messages_per_second": `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "session": {"messages_per_second": -3}}`,
		"negative message_burst":       `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"}, "session": {"message_burst": -1}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, "config.json", content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestMessageRateCanBeDisabled(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "some-secret-value-long-enough-for-hs256"},
		"session": {"messages_per_second": -1}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MessagesPerSecond != -1 {
		t.Errorf("MessagesPerSecond: got %v, want -1 kept as disabled", cfg.Session.MessagesPerSecond)
	}
}

func TestEnvOverridesSecret(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-provided-secret-with-enough-length")
	t.Setenv(EnvGenerationAPIKey, "key-from-env")

	path := writeTempConfig(t, "config.json", `{"server": {"addr": ":8080"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-provided-secret-with-enough-length" {
		t.Errorf("JWTSecret: got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Generation.APIKey != "key-from-env" {
		t.Errorf("Generation.APIKey: got %q", cfg.Generation.APIKey)
	}
}

func TestApplyDefaults(t *testing.T) {
	minimal := `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "my-secret-key-for-testing-purposes"}
	}`

	path := writeTempConfig(t, "config.json", minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.JWTExpiry.Duration != 24*time.Hour {
		t.Errorf("default JWTExpiry: got %v, want 24h", cfg.Auth.JWTExpiry.Duration)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default Storage.Driver: got %q, want %q", cfg.Storage.Driver, "sqlite")
	}
	if cfg.Storage.DSN != "syncroom.db" {
		t.Errorf("default Storage.DSN: got %q, want %q", cfg.Storage.DSN, "syncroom.db")
	}
	if cfg.Session.MaxMessageBytes != 64*1024 {
		t.Errorf("default Session.MaxMessageBytes: got %d", cfg.Session.MaxMessageBytes)
	}
	if cfg.Session.MaxConnsPerUser != 10 {
		t.Errorf("default Session.MaxConnsPerUser: got %d, want 10", cfg.Session.MaxConnsPerUser)
	}
	if cfg.Session.OutboundQueue != 256 {
		t.Errorf("default Session.OutboundQueue: got %d, want 256", cfg.Session.OutboundQueue)
	}
	if cfg.Generation.Provider != "gemini" {
		t.Errorf("default Generation.Provider: got %q, want gemini", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout.Duration != 60*time.Second {
		t.Errorf("default Generation.Timeout: got %v, want 60s", cfg.Generation.Timeout.Duration)
	}
	if cfg.Generation.MaxConcurrent != 4 {
		t.Errorf("default Generation.MaxConcurrent: got %d, want 4", cfg.Generation.MaxConcurrent)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default Logging: got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("default RateLimit: got %f/%d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Server.MaxBodyBytes != 4*1024*1024 {
		t.Errorf("default Server.MaxBodyBytes: got %d", cfg.Server.MaxBodyBytes)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"hub.json", "hub.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Server.Addr = ":7070"
			cfg.Auth.JWTSecret = "round-trip-secret-with-enough-characters"
			cfg.Storage.Driver = "postgres"
			cfg.Storage.DSN = "postgres://u:p@db/syncroom"
			cfg.Generation.Provider = "openai"
			cfg.Generation.Timeout = Duration{Duration: 90 * time.Second}

			path := filepath.Join(t.TempDir(), name)
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("file mode = %o, want 600", perm)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Server.Addr != ":7070" || got.Storage.DSN != cfg.Storage.DSN {
				t.Errorf("round trip lost fields: %+v", got)
			}
			if got.Generation.Timeout.Duration != 90*time.Second {
				t.Errorf("Generation.Timeout = %v, want 90s", got.Generation.Timeout.Duration)
			}
		})
	}
}
