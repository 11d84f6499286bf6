// Package config loads and validates application configuration from an
// optional .env file, a YAML file, and SS_* environment-variable overrides. It
// provides typed structs for every subsystem (Server, Postgres, Redis, Kafka,
// Elasticsearch, Sync, Search, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Sync          SyncConfig          `yaml:"sync"`
	Search        SearchConfig        `yaml:"search"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the admin and search API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// CORSOrigins lists the origins allowed to call the API; "*" allows any.
	CORSOrigins []string `yaml:"corsOrigins"`
	// SearchRateLimit caps search requests per client address per minute.
	// Zero disables the limit.
	SearchRateLimit int `yaml:"searchRateLimit"`
}

// PostgresConfig holds connection parameters for the canonical entity store.
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
	EntityTable     string        `yaml:"entityTable"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters shared by the job queue and
// the search result cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
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
	EntityChanges string `yaml:"entityChanges"`
	SyncAlerts    string `yaml:"syncAlerts"`
	// DeadLetter receives change events that could not be queued. Empty
	// disables dead-lettering.
	DeadLetter string `yaml:"deadLetter"`
}

// ElasticsearchConfig controls the search engine client.
type ElasticsearchConfig struct {
	Addresses      []string      `yaml:"addresses"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	IndexName      string        `yaml:"indexName"`
	MaxRetries     int           `yaml:"maxRetries"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Shards         int           `yaml:"shards"`
	Replicas       int           `yaml:"replicas"`
}

// SyncConfig controls the job queue, workers, and retry policy of the
// synchronization pipeline.
type SyncConfig struct {
	QueueBackend            string        `yaml:"queueBackend"`
	QueueName               string        `yaml:"queueName"`
	Workers                 int           `yaml:"workers"`
	EmbeddedWorkers         bool          `yaml:"embeddedWorkers"`
	BatchSize               int           `yaml:"batchSize"`
	MaxAttempts             int           `yaml:"maxAttempts"`
	RebuildBaseDelay        time.Duration `yaml:"rebuildBaseDelay"`
	IncrementalBaseDelay    time.Duration `yaml:"incrementalBaseDelay"`
	QueueAttempts           int           `yaml:"queueAttempts"`
	RebuildQueueBackoff     time.Duration `yaml:"rebuildQueueBackoff"`
	IncrementalQueueBackoff time.Duration `yaml:"incrementalQueueBackoff"`
	HistorySize             int           `yaml:"historySize"`
	StallTimeout            time.Duration `yaml:"stallTimeout"`
	PollInterval            time.Duration `yaml:"pollInterval"`
	BreakerThreshold        int           `yaml:"breakerThreshold"`
	BreakerResetTimeout     time.Duration `yaml:"breakerResetTimeout"`
}

// SearchConfig controls query defaults and result caching.
type SearchConfig struct {
	DefaultTake       int  `yaml:"defaultTake"`
	MaxTake           int  `yaml:"maxTake"`
	AutocompleteLimit int  `yaml:"autocompleteLimit"`
	SimilarLimit      int  `yaml:"similarLimit"`
	CacheEnabled      bool `yaml:"cacheEnabled"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads an optional .env file next to the working directory, a YAML
// config file (if provided), and applies environment-variable overrides. It
// returns a validated Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Sync.BatchSize <= 0 {
		problems = append(problems, "sync.batchSize must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		problems = append(problems, "sync.maxAttempts must be positive")
	}
	if c.Sync.Workers <= 0 {
		problems = append(problems, "sync.workers must be positive")
	}
	switch c.Sync.QueueBackend {
	case "redis", "memory":
	default:
		problems = append(problems, fmt.Sprintf("sync.queueBackend %q is not one of redis, memory", c.Sync.QueueBackend))
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		problems = append(problems, "elasticsearch.addresses must not be empty")
	}
	if c.Elasticsearch.IndexName == "" {
		problems = append(problems, "elasticsearch.indexName must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			CORSOrigins:     []string{"*"},
			SearchRateLimit: 600,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "business",
			User:            "business",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			EntityTable:     "businesses",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "search-sync",
			Topics: KafkaTopics{
				EntityChanges: "business.changes",
				SyncAlerts:    "search-sync.alerts",
				DeadLetter:    "business.changes.dlq",
			},
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:      []string{"http://localhost:9200"},
			IndexName:      "business_leads",
			MaxRetries:     3,
			RequestTimeout: 30 * time.Second,
			Shards:         1,
			Replicas:       0,
		},
		Sync: SyncConfig{
			QueueBackend:            "redis",
			QueueName:               "search-sync",
			Workers:                 2,
			EmbeddedWorkers:         true,
			BatchSize:               1000,
			MaxAttempts:             3,
			RebuildBaseDelay:        2 * time.Second,
			IncrementalBaseDelay:    1 * time.Second,
			QueueAttempts:           3,
			RebuildQueueBackoff:     2000 * time.Millisecond,
			IncrementalQueueBackoff: 1000 * time.Millisecond,
			HistorySize:             1000,
			StallTimeout:            30 * time.Minute,
			PollInterval:            time.Second,
			BreakerThreshold:        5,
			BreakerResetTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			DefaultTake:       20,
			MaxTake:           100,
			AutocompleteLimit: 10,
			SimilarLimit:      10,
			CacheEnabled:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SS_SERVER_SEARCH_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.SearchRateLimit = n
		}
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_ELASTICSEARCH_ADDRESSES"); v != "" {
		cfg.Elasticsearch.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("SS_ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("SS_ELASTICSEARCH_INDEX"); v != "" {
		cfg.Elasticsearch.IndexName = v
	}
	if v := os.Getenv("SS_SYNC_QUEUE_BACKEND"); v != "" {
		cfg.Sync.QueueBackend = v
	}
	if v := os.Getenv("SS_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Workers = n
		}
	}
	if v := os.Getenv("SS_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
