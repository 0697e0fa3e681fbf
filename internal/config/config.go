package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for our application
type Config struct {
	Port        string
	Origin      string
	Environment string
	JWTSecret   string
	Database    DatabaseConfig
	Log         LogConfig
	Audit       AuditConfig
	Redis       RedisConfig
	PolicyFile  string
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// LogConfig selects the logger level and encoding
type LogConfig struct {
	Level  string
	Format string
}

// AuditConfig holds audit ledger settings
type AuditConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	// RecordDenials makes the HTTP layer append access_denied entries.
	RecordDenials bool
}

// RedisConfig holds the event publisher connection. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "mysql"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "clinical_forms"),
	}
	if dbConfig.Driver != "mysql" && dbConfig.Driver != "memory" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: expected mysql or memory", dbConfig.Driver)
	}

	// Build DSN (Data Source Name) for MySQL connection
	dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)

	defaultPageSize, err := strconv.Atoi(getEnv("AUDIT_DEFAULT_PAGE_SIZE", "20"))
	if err != nil || defaultPageSize <= 0 {
		return nil, fmt.Errorf("invalid AUDIT_DEFAULT_PAGE_SIZE: %q", os.Getenv("AUDIT_DEFAULT_PAGE_SIZE"))
	}

	maxPageSize, err := strconv.Atoi(getEnv("AUDIT_MAX_PAGE_SIZE", "100"))
	if err != nil || maxPageSize <= 0 {
		return nil, fmt.Errorf("invalid AUDIT_MAX_PAGE_SIZE: %q", os.Getenv("AUDIT_MAX_PAGE_SIZE"))
	}

	recordDenials, err := strconv.ParseBool(getEnv("AUDIT_DENIALS", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_DENIALS: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return &Config{
		Port:        getEnv("PORT", "3001"),
		Origin:      getEnv("ORIGIN", "http://localhost:4200"),
		Environment: getEnv("NODE_ENV", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "default_jwt_secret"),
		Database:    dbConfig,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Audit: AuditConfig{
			DefaultPageSize: defaultPageSize,
			MaxPageSize:     maxPageSize,
			RecordDenials:   recordDenials,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			Channel:  getEnv("EVENTS_CHANNEL", "forms:events"),
		},
		PolicyFile: getEnv("POLICY_FILE", ""),
	}, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
