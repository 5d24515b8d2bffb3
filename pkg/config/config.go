// Package config loads server configuration from environment variables
// with safe defaults, plus an optional YAML vault profile carrying the
// supported-asset whitelist and rate limiter tuning.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	StoreBackend string // "memory", "sqlite", "postgres"
	SQLitePath   string
	PostgresURL  string
	RedisAddr    string // enables the shared rate limiter when set
	JWTSecret    string
	VaultAccount string
	AdminAccount string
	ProfilePath  string // optional YAML vault profile
	AuditLogPath string // enables the JSONL audit file sink when set
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		StoreBackend: getenv("STORE_BACKEND", "sqlite"),
		SQLitePath:   getenv("SQLITE_PATH", "vault.db"),
		PostgresURL:  getenv("DATABASE_URL", ""),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		JWTSecret:    getenv("JWT_SECRET", "dev-secret-do-not-use-in-production"),
		VaultAccount: getenv("VAULT_ACCOUNT", "vault-escrow"),
		AdminAccount: getenv("ADMIN_ACCOUNT", "admin"),
		ProfilePath:  getenv("VAULT_PROFILE", ""),
		AuditLogPath: getenv("AUDIT_LOG_PATH", ""),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
