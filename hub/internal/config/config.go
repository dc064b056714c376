// Package config handles hub configuration loading and validation.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override secrets from the config file.
const (
	EnvJWTSecret        = "SYNCROOM_JWT_SECRET"
	EnvGenerationAPIKey = "SYNCROOM_GENERATION_API_KEY"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server     ServerConfig     `json:"server" toml:"server"`
	Auth       AuthConfig       `json:"auth" toml:"auth"`
	Storage    StorageConfig    `json:"storage" toml:"storage"`
	Session    SessionConfig    `json:"session" toml:"session"`
	Generation GenerationConfig `json:"generation" toml:"generation"`
	Logging    LoggingConfig    `json:"logging" toml:"logging"`
	RateLimit  RateLimitConfig  `json:"rate_limit,omitempty" toml:"rate_limit"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr" toml:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty" toml:"tls_cert"`
	TLSKey         string   `json:"tls_key,omitempty" toml:"tls_key"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" toml:"allowed_origins"` // CORS + WS origin check; default all
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty" toml:"max_body_bytes"`   // max request body size; default 4MB
}

// AuthConfig defines how bearer credentials are verified.
type AuthConfig struct {
	Provider  string   `json:"provider,omitempty" toml:"provider"` // "hs256" (default) or "jwks"
	JWTSecret string   `json:"jwt_secret,omitempty" toml:"jwt_secret"`
	JWTExpiry Duration `json:"jwt_expiry,omitempty" toml:"jwt_expiry"` // lifetime of tokens minted by `token`
	JWKSURL   string   `json:"jwks_url,omitempty" toml:"jwks_url"`
	JWTIssuer string   `json:"jwt_issuer,omitempty" toml:"jwt_issuer"`
}

// StorageConfig defines the session directory backend.
type StorageConfig struct {
	Driver   string `json:"driver" toml:"driver"`               // "sqlite" (default), "postgres" or "mongo"
	DSN      string `json:"dsn" toml:"dsn"`                     // e.g. "syncroom.db", "postgres://...", "mongodb://..."
	Database string `json:"database,omitempty" toml:"database"` // mongo database name
}

// SessionConfig defines live connection behavior.
type SessionConfig struct {
	MaxMessageBytes   int64   `json:"max_message_bytes,omitempty" toml:"max_message_bytes"`     // max WebSocket frame from a client; default 64KB
	MaxConnsPerUser   int     `json:"max_conns_per_user,omitempty" toml:"max_conns_per_user"`   // default 10
	OutboundQueue     int     `json:"outbound_queue,omitempty" toml:"outbound_queue"`           // per-connection send buffer; default 256
	MessagesPerSecond float64 `json:"messages_per_second,omitempty" toml:"messages_per_second"` // inbound rate per connection; default 30, -1 disables
	MessageBurst      int     `json:"message_burst,omitempty" toml:"message_burst"`             // default 50
}

// GenerationConfig configures the AI generation service.
type GenerationConfig struct {
	Provider         string   `json:"provider,omitempty" toml:"provider"` // "gemini" (default), "openai", "anthropic"
	APIKey           string   `json:"api_key,omitempty" toml:"api_key"`
	Model            string   `json:"model,omitempty" toml:"model"`
	Timeout          Duration `json:"timeout,omitempty" toml:"timeout"`                       // default 60s
	MaxConcurrent    int      `json:"max_concurrent,omitempty" toml:"max_concurrent"`         // per room; default 4
	SystemPromptFile string   `json:"system_prompt_file,omitempty" toml:"system_prompt_file"` // overrides the built-in instruction
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" toml:"level"`
	Format string `json:"format,omitempty" toml:"format"` // "json" or "text"
}

// RateLimitConfig defines HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" toml:"requests_per_second"` // default 10
	Burst             int     `json:"burst,omitempty" toml:"burst"`                             // default 20
}

// Duration is a JSON and TOML friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText lets TOML strings such as "30s" decode into a Duration.
func (d *Duration) UnmarshalText(b []byte) error {
	dur, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MarshalText writes durations as strings such as "30s".
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Save writes cfg to path with owner-only permissions, as TOML when the
// extension is .toml and as indented JSON otherwise.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	} else {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load reads and validates a config file. Files ending in .toml are decoded
// as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvGenerationAPIKey); v != "" {
		c.Generation.APIKey = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "hs256":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
		if knownWeakSecrets[c.Auth.JWTSecret] {
			return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", c.Auth.Provider)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres", "mongo":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	switch c.Generation.Provider {
	case "", "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}
	if c.Generation.Timeout.Duration < 0 {
		return fmt.Errorf("generation.timeout must not be negative")
	}
	if c.Generation.MaxConcurrent < 0 {
		return fmt.Errorf("generation.max_concurrent must not be negative")
	}
	if c.Session.MaxMessageBytes < 0 {
		return fmt.Errorf("session.max_message_bytes must not be negative")
	}
	if c.Session.MaxConnsPerUser < 0 {
		return fmt.Errorf("session.max_conns_per_user must not be negative")
	}
	if c.Session.OutboundQueue < 0 {
		return fmt.Errorf("session.outbound_queue must not be negative")
	}
	// -1 turns inbound message limiting off.
	if c.Session.MessagesPerSecond < 0 && c.Session.MessagesPerSecond != -1 {
		return fmt.Errorf("session.messages_per_second must be positive, or -1 to disable")
	}
	if c.Session.MessageBurst < 0 {
		return fmt.Errorf("session.message_burst must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "hs256"
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		switch c.Storage.Driver {
		case "mongo":
			c.Storage.DSN = "mongodb://localhost:27017"
		default:
			c.Storage.DSN = "syncroom.db"
		}
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "syncroom"
	}
	if c.Session.MaxMessageBytes == 0 {
		c.Session.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Session.MaxConnsPerUser == 0 {
		c.Session.MaxConnsPerUser = 10
	}
	if c.Session.OutboundQueue == 0 {
		c.Session.OutboundQueue = 256
	}
	if c.Session.MessagesPerSecond == 0 {
		c.Session.MessagesPerSecond = 30
	}
	if c.Session.MessageBurst == 0 {
		c.Session.MessageBurst = 50
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "gemini"
	}
	if c.Generation.Timeout.Duration == 0 {
		c.Generation.Timeout.Duration = 60 * time.Second
	}
	if c.Generation.MaxConcurrent == 0 {
		c.Generation.MaxConcurrent = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 4 * 1024 * 1024 // 4MB, file trees can be large
	}
}
