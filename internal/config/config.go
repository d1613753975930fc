// Package config defines the sentinel configuration model, its loader,
// and the file watcher used for hot reload of policy values.
package config

import (
	"time"

	"github.com/apisentinel/sentinel/internal/observability"
)

// Config is the root configuration for the sentinel service.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Log       observability.LogConfig `yaml:"log"`
	Auth      AuthConfig              `yaml:"auth"`
	Storage   StorageConfig           `yaml:"storage"`
	Counters  CountersConfig          `yaml:"counters"`
	Retention RetentionConfig         `yaml:"retention"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	AdminToken      string   `yaml:"adminToken"`
}

// AuthConfig holds the authentication policy applied per request.
type AuthConfig struct {
	// HeaderName is the request header carrying the API key. The
	// api_key query parameter is always accepted as a fallback.
	HeaderName string `yaml:"headerName"`

	// AllowedPaths restricts which paths the gate protects. Patterns
	// support a * wildcard. Empty means all paths.
	AllowedPaths []string `yaml:"allowedPaths"`

	// WhitelistIPs, when non-empty, denies every client IP not listed.
	WhitelistIPs []string `yaml:"whitelistIPs"`

	// BlacklistIPs denies the listed client IPs outright.
	BlacklistIPs []string `yaml:"blacklistIPs"`

	// UseEncryption selects encrypted at-rest storage for key digests
	// instead of one-way hashing.
	UseEncryption bool `yaml:"useEncryption"`

	// EncryptionKey is the base64-encoded 32-byte AES key. The
	// SENTINEL_ENCRYPTION_KEY environment variable takes precedence.
	EncryptionKey string `yaml:"encryptionKey"`

	RateLimit    LimitConfig `yaml:"rateLimit"`
	FailureLimit LimitConfig `yaml:"failureLimit"`

	// RateCacheTTL bounds how long a computed request count is reused
	// before the ledger is consulted again. Zero or negative disables
	// the cache.
	RateCacheTTL Duration `yaml:"rateCacheTTL"`
}

// LimitConfig is a threshold over a named time bucket. A zero limit
// disables the check.
type LimitConfig struct {
	Limit  int64  `yaml:"limit"`
	Bucket string `yaml:"bucket"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CountersConfig selects the counter store backend.
type CountersConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis counter store.
type RedisConfig struct {
	Addr        string   `yaml:"addr"`
	Password    string   `yaml:"password"`
	DB          int      `yaml:"db"`
	DialTimeout Duration `yaml:"dialTimeout"`
	ReadTimeout Duration `yaml:"readTimeout"`
	PoolSize    int      `yaml:"poolSize"`
}

// RetentionConfig configures the background cleanup sweeps.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`

	// KeyGrace is how long past expiry a key is kept before deletion.
	KeyGrace Duration `yaml:"keyGrace"`

	// UsageGrace is how long usage events are retained.
	UsageGrace Duration `yaml:"usageGrace"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: observability.DefaultLogConfig(),
		Auth: AuthConfig{
			HeaderName:   "X-API-KEY",
			RateLimit:    LimitConfig{Limit: 0, Bucket: "hour"},
			FailureLimit: LimitConfig{Limit: 0, Bucket: "hour"},
			RateCacheTTL: Duration(60 * time.Second),
		},
		Storage: StorageConfig{
			Path: "sentinel.db",
		},
		Counters: CountersConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				DialTimeout: Duration(5 * time.Second),
				ReadTimeout: Duration(3 * time.Second),
				PoolSize:    10,
			},
		},
		Retention: RetentionConfig{
			Enabled:    true,
			Schedule:   "17 3 * * *",
			KeyGrace:   Duration(3 * 30 * 24 * time.Hour),
			UsageGrace: Duration(6 * 30 * 24 * time.Hour),
		},
	}
}
