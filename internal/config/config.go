package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Access tokens accept the legacy NEXTAUTH_SECRET while clients migrate
	// off the previous auth system; refresh tokens have their own secret.
	JWTSecret        string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration

	// EncryptionKey is 64 hex characters (a 256-bit key). PayloadEncryption
	// gates the transport envelope: on in production, overridable via env.
	EncryptionKey     string
	PayloadEncryption bool

	TOTPIssuer string

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int
	AuditQueueSize   int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		jwtSecret = strings.TrimSpace(os.Getenv("NEXTAUTH_SECRET"))
	}

	appEnv := strings.ToLower(getEnv("APP_ENV", "development"))

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 15*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              getInt("DB_MAX_CONNS", 10),
		DBMinConns:              getInt("DB_MIN_CONNS", 2),
		JWTSecret:               jwtSecret,
		JWTRefreshSecret:        strings.TrimSpace(os.Getenv("JWT_REFRESH_SECRET")),
		JWTAccessTTL:            getDuration("JWT_ACCESS_TTL", 24*time.Hour),
		JWTRefreshTTL:           getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		EncryptionKey:           strings.TrimSpace(os.Getenv("ENCRYPTION_KEY")),
		PayloadEncryption:       getBool("PAYLOAD_ENCRYPTION", appEnv == "production"),
		TOTPIssuer:              getEnv("TOTP_ISSUER", "medrecord"),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 10),
		AuditQueueSize:          getInt("AUDIT_QUEUE_SIZE", 1024),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate is the fatal-at-startup gate: a missing signing secret or a
// malformed cipher key must stop the process, never degrade per-request.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET (or NEXTAUTH_SECRET) is required")
	}

	if c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}

	if c.JWTRefreshSecret == c.JWTSecret {
		return fmt.Errorf("JWT_REFRESH_SECRET must differ from JWT_SECRET")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.PayloadEncryption || c.EncryptionKey != "" {
		if len(c.EncryptionKey) != 64 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters")
		}
		if _, err := hex.DecodeString(c.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY is not valid hex")
		}
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
