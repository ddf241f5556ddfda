// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Postgres, Kafka, Redis, Corpus, Query, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCollocationWindow is the token window applied to a collocation
// query that does not name one.
const DefaultCollocationWindow = 5

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RPC       RPCConfig       `yaml:"rpc"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Query     QueryConfig     `yaml:"query"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// RateLimit is the number of API requests one client may make per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// RPCConfig holds the JSON-over-TCP query service listener.
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SnapshotUpdated string `yaml:"snapshotUpdated"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CorpusConfig names the snapshot the service evaluates against and where
// annotations are read from.
type CorpusConfig struct {
	SnapshotPath string `yaml:"snapshotPath"`
	// AnnotationSource is "snapshot" or "postgres".
	AnnotationSource string `yaml:"annotationSource"`
}

// QueryConfig controls evaluation behaviour and limits.
type QueryConfig struct {
	DefaultCollocationWindow int           `yaml:"defaultCollocationWindow"`
	Parallel                 bool          `yaml:"parallel"`
	MaxQueryLength           int           `yaml:"maxQueryLength"`
	Timeout                  time.Duration `yaml:"timeout"`
	RegexTimeout             time.Duration `yaml:"regexTimeout"`
	// Similarity is "jaro-winkler", "levenshtein" or "damerau-levenshtein".
	Similarity  string `yaml:"similarity"`
	JobPoolSize int    `yaml:"jobPoolSize"`
	JobRetain   int    `yaml:"jobRetain"`
	MaxRows     int    `yaml:"maxRows"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for evaluated queries.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// AnalyticsConfig controls query event batching and persistence. A zero
// PersistInterval disables persistence.
type AnalyticsConfig struct {
	BufferSize      int           `yaml:"bufferSize"`
	BatchSize       int           `yaml:"batchSize"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	PersistInterval time.Duration `yaml:"persistInterval"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  25 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		RPC: RPCConfig{
			Enabled: true,
			Addr:    ":9400",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "corpusquery",
			User:            "corpusquery",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "corpusquery-group",
			Topics: KafkaTopics{
				SnapshotUpdated: "corpus.snapshot-updated",
				AnalyticsEvents: "query-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Corpus: CorpusConfig{
			SnapshotPath:     "data/corpus.cqs",
			AnnotationSource: "snapshot",
		},
		Query: QueryConfig{
			DefaultCollocationWindow: DefaultCollocationWindow,
			Parallel:                 true,
			MaxQueryLength:           4096,
			Timeout:                  20 * time.Second,
			RegexTimeout:             250 * time.Millisecond,
			Similarity:               "jaro-winkler",
			JobPoolSize:              8,
			JobRetain:                256,
			MaxRows:                  10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Analytics: AnalyticsConfig{
			BufferSize:    10000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	if c.Query.DefaultCollocationWindow < 0 {
		return fmt.Errorf("query.defaultCollocationWindow must not be negative, got %d", c.Query.DefaultCollocationWindow)
	}
	switch c.Query.Similarity {
	case "jaro-winkler", "levenshtein", "damerau-levenshtein":
	default:
		return fmt.Errorf("query.similarity: unknown function %q", c.Query.Similarity)
	}
	switch c.Corpus.AnnotationSource {
	case "snapshot", "postgres":
	default:
		return fmt.Errorf("corpus.annotationSource: unknown source %q", c.Corpus.AnnotationSource)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Query.JobPoolSize <= 0 {
		return fmt.Errorf("query.jobPoolSize must be positive, got %d", c.Query.JobPoolSize)
	}
	return nil
}

// applyEnvOverrides reads CQ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CQ_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CQ_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("CQ_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("CQ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CQ_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CQ_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CQ_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CQ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CQ_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("CQ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CQ_CORPUS_SNAPSHOT"); v != "" {
		cfg.Corpus.SnapshotPath = v
	}
	if v := os.Getenv("CQ_CORPUS_ANNOTATIONS"); v != "" {
		cfg.Corpus.AnnotationSource = v
	}
	if v := os.Getenv("CQ_QUERY_COLLOCATION_WINDOW"); v != "" {
		if w, err := strconv.Atoi(v); err == nil {
			cfg.Query.DefaultCollocationWindow = w
		}
	}
	if v := os.Getenv("CQ_QUERY_PARALLEL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Query.Parallel = b
		}
	}
	if v := os.Getenv("CQ_QUERY_SIMILARITY"); v != "" {
		cfg.Query.Similarity = v
	}
	if v := os.Getenv("CQ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CQ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
