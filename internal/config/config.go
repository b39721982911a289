package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Kafka    KafkaConfig    `json:"kafka"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Matching MatchingConfig `json:"matching"`
	Resolver ResolverConfig `json:"resolver"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `json:"http_port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Database       string        `json:"database"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	MigrationsPath string        `json:"migrations_path"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers        []string      `json:"brokers"`
	ConsumerGroup  string        `json:"consumer_group"`
	MentionsTopic  string        `json:"mentions_topic"`
	ResolvedTopic  string        `json:"resolved_topic"`
	SessionTimeout time.Duration `json:"session_timeout"`
}

// Neo4jConfig holds Neo4j configuration for the graph projection
type Neo4jConfig struct {
	Enabled           bool          `json:"enabled"`
	URI               string        `json:"uri"`
	Username          string        `json:"username"`
	Password          string        `json:"password"`
	Database          string        `json:"database"`
	MaxConnections    int           `json:"max_connections"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
}

// MatchingConfig holds the fuzzy matching policy. Thresholds are
// percentages on the 0-100 similarity scale.
type MatchingConfig struct {
	AliasThreshold      float64 `json:"alias_threshold"`
	AliasCrossThreshold float64 `json:"alias_cross_threshold"`
	FullNameThreshold   float64 `json:"full_name_threshold"`
	BlockingEnabled     bool    `json:"blocking_enabled"`
	BlockingKeySize     int     `json:"blocking_key_size"`
	MaxCandidates       int     `json:"max_candidates"`
	CategoryScoped      bool    `json:"category_scoped"`
}

// ResolverConfig holds resolution retry policy
type ResolverConfig struct {
	HistoryRetryAttempts int           `json:"history_retry_attempts"`
	HistoryRetryBackoff  time.Duration `json:"history_retry_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnvInt("HTTP_PORT", 8084),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnvString("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			Database:       getEnvString("DB_NAME", "fieldledger"),
			Username:       getEnvString("DB_USER", "postgres"),
			Password:       getEnvString("DB_PASSWORD", "password"),
			SSLMode:        getEnvString("DB_SSL_MODE", "disable"),
			MaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleTime:    getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime:    getEnvDuration("DB_MAX_LIFETIME", 2*time.Hour),
			ConnectTimeout: getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			MigrationsPath: getEnvString("DB_MIGRATIONS_PATH", "file://migrations"),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ConsumerGroup:  getEnvString("KAFKA_CONSUMER_GROUP", "fieldledger-entity-registry"),
			MentionsTopic:  getEnvString("KAFKA_MENTIONS_TOPIC", "fieldledger.mentions"),
			ResolvedTopic:  getEnvString("KAFKA_RESOLVED_TOPIC", "fieldledger.entities.resolved"),
			SessionTimeout: getEnvDuration("KAFKA_SESSION_TIMEOUT", 10*time.Second),
		},
		Neo4j: Neo4jConfig{
			Enabled:           getEnvBool("NEO4J_ENABLED", false),
			URI:               getEnvString("NEO4J_URI", "bolt://localhost:7687"),
			Username:          getEnvString("NEO4J_USERNAME", "neo4j"),
			Password:          getEnvString("NEO4J_PASSWORD", "password"),
			Database:          getEnvString("NEO4J_DATABASE", "neo4j"),
			MaxConnections:    getEnvInt("NEO4J_MAX_CONNECTIONS", 25),
			ConnectionTimeout: getEnvDuration("NEO4J_CONNECTION_TIMEOUT", 30*time.Second),
		},
		Matching: MatchingConfig{
			AliasThreshold:      getEnvFloat("MATCH_ALIAS_THRESHOLD", 80),
			AliasCrossThreshold: getEnvFloat("MATCH_ALIAS_CROSS_THRESHOLD", 60),
			FullNameThreshold:   getEnvFloat("MATCH_FULL_NAME_THRESHOLD", 85),
			BlockingEnabled:     getEnvBool("MATCH_BLOCKING_ENABLED", true),
			BlockingKeySize:     getEnvInt("MATCH_BLOCKING_KEY_SIZE", 3),
			MaxCandidates:       getEnvInt("MATCH_MAX_CANDIDATES", 500),
			CategoryScoped:      getEnvBool("MATCH_CATEGORY_SCOPED", false),
		},
		Resolver: ResolverConfig{
			HistoryRetryAttempts: getEnvInt("RESOLVER_HISTORY_RETRY_ATTEMPTS", 3),
			HistoryRetryBackoff:  getEnvDuration("RESOLVER_HISTORY_RETRY_BACKOFF", 100*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
	}

	return config, config.Validate()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("Kafka brokers are required")
	}

	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("Kafka consumer group is required")
	}

	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("Neo4j URI is required when the graph projection is enabled")
	}

	if err := validateThreshold("alias threshold", c.Matching.AliasThreshold); err != nil {
		return err
	}
	if err := validateThreshold("alias cross threshold", c.Matching.AliasCrossThreshold); err != nil {
		return err
	}
	if err := validateThreshold("full name threshold", c.Matching.FullNameThreshold); err != nil {
		return err
	}

	if c.Matching.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive")
	}

	if c.Matching.BlockingKeySize <= 0 {
		return fmt.Errorf("blocking key size must be positive")
	}

	if c.Resolver.HistoryRetryAttempts < 1 {
		return fmt.Errorf("history retry attempts must be at least 1")
	}

	return nil
}

func validateThreshold(name string, value float64) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("%s must be between 0 and 100", name)
	}
	return nil
}

// DatabaseDSN returns the database connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
