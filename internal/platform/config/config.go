package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const devJWTSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	// Store selects the ledger backend: memory, postgres or redis.
	Store string
	// AddressNamespace keys address derivation. Changing it moves every
	// record to a new address, so it is fixed for the life of a deployment.
	AddressNamespace string
	JWTSigningKey    string
	JWTIssuer        string
	JWTAudience      string
	AdminToken       string
	ShutdownTimeout  time.Duration
	TxTimeout        time.Duration

	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Screening    ScreeningConfig
	Confidential ConfidentialConfig
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox pipeline. No brokers disables it.
type KafkaConfig struct {
	Brokers        []string
	ClientID       string
	AuditTopic     string
	SecurityTopic  string
	ConsumerGroup  string
	OutboxBatch    int
	OutboxInterval time.Duration
}

// ScreeningConfig configures the wallet screening oracle. An empty URL selects
// the static development oracle.
type ScreeningConfig struct {
	BaseURL     string
	APIKey      string
	Network     string
	Timeout     time.Duration
	CacheTTL    time.Duration
	StaticScore int
}

// ConfidentialConfig configures the confidential-transfer account reader. An
// empty URL selects the in-process registry.
type ConfidentialConfig struct {
	BaseURL string
	Timeout time.Duration
}

// IsProduction reports whether development defaults must be rejected.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv loads an optional .env file (PAYGATE_ENV_FILE, default ".env") and
// builds the configuration from the environment.
func FromEnv() (Server, error) {
	envFile := getEnvOrDefault("PAYGATE_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Server{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Server{
		Addr:             getEnvOrDefault("PAYGATE_ADDR", ":8080"),
		Environment:      getEnvOrDefault("PAYGATE_ENV", "development"),
		Store:            strings.ToLower(getEnvOrDefault("PAYGATE_STORE", StoreMemory)),
		AddressNamespace: os.Getenv("PAYGATE_ADDRESS_NAMESPACE"),
		JWTSigningKey:    getEnvOrDefault("JWT_SIGNING_KEY", devJWTSigningKey),
		JWTIssuer:        getEnvOrDefault("JWT_ISSUER", "paygate"),
		JWTAudience:      getEnvOrDefault("JWT_AUDIENCE", "paygate-api"),
		AdminToken:       os.Getenv("PAYGATE_ADMIN_TOKEN"),
		ShutdownTimeout:  getDuration("PAYGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		TxTimeout:        getDuration("PAYGATE_TX_TIMEOUT", 5*time.Second),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			ClientID:       getEnvOrDefault("KAFKA_CLIENT_ID", "paygate"),
			AuditTopic:     getEnvOrDefault("KAFKA_AUDIT_TOPIC", "paygate.audit.compliance"),
			SecurityTopic:  getEnvOrDefault("KAFKA_SECURITY_TOPIC", "paygate.audit.security"),
			ConsumerGroup:  getEnvOrDefault("KAFKA_CONSUMER_GROUP", "paygate-audit-materializer"),
			OutboxBatch:    getInt("OUTBOX_BATCH_SIZE", 100),
			OutboxInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
		},
		Screening: ScreeningConfig{
			BaseURL:     os.Getenv("SCREENING_API_URL"),
			APIKey:      os.Getenv("SCREENING_API_KEY"),
			Network:     getEnvOrDefault("SCREENING_NETWORK", "solana"),
			Timeout:     getDuration("SCREENING_TIMEOUT", 10*time.Second),
			CacheTTL:    getDuration("SCREENING_CACHE_TTL", 15*time.Minute),
			StaticScore: getInt("SCREENING_STATIC_SCORE", 85),
		},
		Confidential: ConfidentialConfig{
			BaseURL: os.Getenv("CONFIDENTIAL_API_URL"),
			Timeout: getDuration("CONFIDENTIAL_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (s Server) Validate() error {
	switch s.Store {
	case StoreMemory:
	case StorePostgres:
		if s.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if s.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown PAYGATE_STORE %q", s.Store)
	}
	if len(s.Kafka.Brokers) > 0 && s.Database.URL == "" {
		return fmt.Errorf("KAFKA_BROKERS requires DATABASE_URL for the audit outbox")
	}
	if s.Screening.StaticScore < 0 || s.Screening.StaticScore > 100 {
		return fmt.Errorf("SCREENING_STATIC_SCORE must be within 0..100")
	}
	if s.IsProduction() {
		if s.JWTSigningKey == devJWTSigningKey {
			return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
		}
		if s.Screening.BaseURL == "" {
			return fmt.Errorf("SCREENING_API_URL must be set in production")
		}
		if s.Confidential.BaseURL == "" {
			return fmt.Errorf("CONFIDENTIAL_API_URL must be set in production")
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
