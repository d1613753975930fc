package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var knownBuckets = map[string]bool{
	"half_hour": true,
	"hour":      true,
	"hours_2":   true,
	"hours_3":   true,
	"hours_6":   true,
	"half_day":  true,
	"day":       true,
}

// ValidateConfig validates a sentinel configuration.
func ValidateConfig(config *Config) error {
	var errs ValidationErrors

	addError := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if config == nil {
		addError("", "configuration is nil")
		return errs
	}

	if config.Server.ListenAddr == "" {
		addError("server.listenAddr", "listen address is required")
	}

	if config.Auth.HeaderName == "" {
		addError("auth.headerName", "header name is required")
	}
	validateLimit(addError, "auth.rateLimit", config.Auth.RateLimit)
	validateLimit(addError, "auth.failureLimit", config.Auth.FailureLimit)
	validateIPs(addError, "auth.whitelistIPs", config.Auth.WhitelistIPs)
	validateIPs(addError, "auth.blacklistIPs", config.Auth.BlacklistIPs)

	if config.Auth.UseEncryption || config.Auth.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(config.Auth.EncryptionKey)
		switch {
		case config.Auth.EncryptionKey == "":
			addError("auth.encryptionKey", "encryption key is required when useEncryption is set")
		case err != nil:
			addError("auth.encryptionKey", "encryption key is not valid base64")
		case len(key) != 32:
			addError("auth.encryptionKey", "encryption key must decode to 32 bytes, got %d", len(key))
		}
	}

	if config.Storage.Path == "" {
		addError("storage.path", "database path is required")
	}

	switch config.Counters.Backend {
	case "memory":
	case "redis":
		if config.Counters.Redis.Addr == "" {
			addError("counters.redis.addr", "redis address is required")
		}
	default:
		addError("counters.backend", "backend must be memory or redis, got %q", config.Counters.Backend)
	}

	if config.Retention.Enabled {
		if config.Retention.Schedule == "" {
			addError("retention.schedule", "schedule is required when retention is enabled")
		}
		if config.Retention.KeyGrace.Duration() < 0 {
			addError("retention.keyGrace", "grace period cannot be negative")
		}
		if config.Retention.UsageGrace.Duration() < 0 {
			addError("retention.usageGrace", "grace period cannot be negative")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateLimit(addError func(string, string, ...interface{}), path string, limit LimitConfig) {
	if limit.Limit < 0 {
		addError(path+".limit", "limit cannot be negative")
	}
	if limit.Bucket != "" && !knownBuckets[limit.Bucket] {
		addError(path+".bucket", "unknown bucket %q", limit.Bucket)
	}
}

func validateIPs(addError func(string, string, ...interface{}), path string, ips []string) {
	for i, ip := range ips {
		if net.ParseIP(ip) == nil {
			addError(fmt.Sprintf("%s[%d]", path, i), "invalid IP address %q", ip)
		}
	}
}
