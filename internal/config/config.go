package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	MaxImagePixels     int64
	LogLevel           string

	// Session directory
	DatabaseURL      string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	SessionTable     string
	DirectoryTimeout time.Duration

	// OCR
	OCRLanguage             string
	OCRTimeout              time.Duration
	ConsensusStartThreshold int
	ConsensusStep           int
	ConsensusAttempts       int

	// AllowAnonymousRaw keeps the legacy unauthenticated text/plain variant
	// of POST /ocr/b64 reachable.
	AllowAnonymousRaw bool
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// DSN returns the session directory connection string. DATABASE_URL wins
// over the individual DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	q.Set("connect_timeout", strconv.Itoa(int(c.DirectoryTimeout.Seconds())+1))
	u.RawQuery = q.Encode()
	return u.String()
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "3049"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB
		MaxImagePixels:     parseIntOrDefault("MAX_IMAGE_PIXELS", 1<<20),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),

		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBHost:           getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:           getEnvOrDefault("DB_PORT", "5432"),
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBName:           getEnvOrDefault("DB_NAME", "ocr"),
		DBSSLMode:        getEnvOrDefault("DB_SSLMODE", "disable"),
		SessionTable:     getEnvOrDefault("SESSION_TABLE", "sessions"),
		DirectoryTimeout: parseDurationOrDefault("DIRECTORY_TIMEOUT", 5*time.Second),

		OCRLanguage:             getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRTimeout:              parseDurationOrDefault("OCR_TIMEOUT", 10*time.Second),
		ConsensusStartThreshold: int(parseIntOrDefault("CONSENSUS_START_THRESHOLD", 58)),
		ConsensusStep:           int(parseIntOrDefault("CONSENSUS_STEP", 2)),
		ConsensusAttempts:       int(parseIntOrDefault("CONSENSUS_ATTEMPTS", 5)),

		AllowAnonymousRaw: parseBoolOrDefault("ALLOW_ANONYMOUS_RAW", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and formats that would otherwise fail at request time.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.DatabaseURL == "" {
		dp, err := strconv.Atoi(strings.TrimSpace(c.DBPort))
		if err != nil || dp < 1 || dp > 65535 {
			return fmt.Errorf("invalid DB_PORT: %q", c.DBPort)
		}
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be > 0 (got %d)", c.MaxImagePixels)
	}
	if c.RequestTimeout <= 0 || c.DirectoryTimeout <= 0 || c.OCRTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, directory=%s, ocr=%s)",
			c.RequestTimeout, c.DirectoryTimeout, c.OCRTimeout)
	}
	if c.ConsensusAttempts < 1 {
		return fmt.Errorf("CONSENSUS_ATTEMPTS must be >= 1 (got %d)", c.ConsensusAttempts)
	}
	if !identifierPattern.MatchString(c.SessionTable) {
		return fmt.Errorf("invalid SESSION_TABLE: %q", c.SessionTable)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
