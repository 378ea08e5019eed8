package httpserver

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultAllowedOrigin = "http://localhost:8000"
	defaultJWTIssuer     = "tokenvault"
	shutdownGrace        = 5 * time.Second
)

// Config aggregates runtime settings for the vault HTTP facade.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	APIKeys        []string
	JWTSigningKey  string
	JWTIssuer      string
}

// Validate applies defaults and rejects unusable values. Leaving both
// APIKeys and JWTSigningKey empty disables authentication on mutating
// routes, which is only sensible for local development.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	for _, key := range cfg.APIKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("api keys must not be blank")
		}
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	return splitCommaList(raw)
}

// ParseAPIKeys splits comma-delimited API keys into a slice.
func ParseAPIKeys(raw string) []string {
	return splitCommaList(raw)
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
