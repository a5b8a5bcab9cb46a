// Package config loads application configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Filter    FilterConfig
	Storage   StorageConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// JWTConfig holds JWT token configuration
type JWTConfig struct {
	AccessSecret       string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// AuthConfig holds authentication policy configuration
type AuthConfig struct {
	BcryptCost           int
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	RequireVerifiedEmail bool
	// MaxConcurrentLogins caps in-flight login/register requests so
	// bcrypt work cannot starve the rest of the server.
	MaxConcurrentLogins int
}

// RateLimitConfig holds request rate limiting configuration
type RateLimitConfig struct {
	// Backend selects the counter store: "memory" or "redis"
	Backend   string
	RedisAddr string
	RedisDB   int
	Limit     int
	Window    time.Duration
}

// FilterConfig holds request validation filter configuration
type FilterConfig struct {
	// MaxBodyBytes caps any request body at the edge, so it must leave
	// headroom above the document upload cap for multipart framing.
	MaxBodyBytes int64
	// BypassPaths are path prefixes exempt from inspection
	BypassPaths []string
	// AllowedUploadTypes lists accepted multipart content types
	AllowedUploadTypes []string
}

// StorageConfig holds S3/MinIO configuration for document storage
type StorageConfig struct {
	Endpoint           string
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	Bucket             string
	UseSSL             bool
	PresignedURLExpiry time.Duration
	MaxDocumentBytes   int64
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file in
// the working directory is loaded first if present; real environment
// variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "student_records"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			AccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  getDurationEnv("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			Issuer:             getEnv("JWT_ISSUER", "student-records-api"),
		},
		Auth: AuthConfig{
			BcryptCost:           getIntEnv("AUTH_BCRYPT_COST", 12),
			MaxLoginAttempts:     getIntEnv("AUTH_MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:      getDurationEnv("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			RequireVerifiedEmail: getBoolEnv("AUTH_REQUIRE_VERIFIED_EMAIL", false),
			MaxConcurrentLogins:  getIntEnv("AUTH_MAX_CONCURRENT_LOGINS", 32),
		},
		RateLimit: RateLimitConfig{
			Backend:   getEnv("RATE_LIMIT_BACKEND", "memory"),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getIntEnv("REDIS_DB", 0),
			Limit:     getIntEnv("RATE_LIMIT_REQUESTS", 100),
			Window:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Filter: FilterConfig{
			// Must stay above STORAGE_MAX_DOCUMENT_BYTES plus multipart
			// framing, or the filter rejects document uploads before the
			// document size cap is ever reached.
			MaxBodyBytes: getInt64Env("FILTER_MAX_BODY_BYTES", 12<<20),
			BypassPaths:  getListEnv("FILTER_BYPASS_PATHS", []string{"/health", "/metrics", "/docs"}),
			AllowedUploadTypes: getListEnv("FILTER_ALLOWED_UPLOAD_TYPES", []string{
				"application/pdf", "image/jpeg", "image/png",
			}),
		},
		Storage: StorageConfig{
			Endpoint:           getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			Region:             getEnv("STORAGE_REGION", "us-east-1"),
			AccessKeyID:        getEnv("STORAGE_ACCESS_KEY", ""),
			SecretAccessKey:    getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:             getEnv("STORAGE_BUCKET", "student-documents"),
			UseSSL:             getBoolEnv("STORAGE_USE_SSL", false),
			PresignedURLExpiry: getDurationEnv("STORAGE_PRESIGN_EXPIRY", 15*time.Minute),
			MaxDocumentBytes:   getInt64Env("STORAGE_MAX_DOCUMENT_BYTES", 10<<20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Values use time.ParseDuration syntax ("15m", "168h").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getIntEnv returns int from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getInt64Env returns int64 from environment variable or default
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns bool from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getListEnv returns a comma-separated list from environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
