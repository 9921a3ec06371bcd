package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the aggregator and the agent. Each
// process reads the sections it needs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Sync       SyncConfig       `yaml:"sync"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Notify     NotifyConfig     `yaml:"notify"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Archive    ArchiveConfig    `yaml:"archive"`
	AWS        AWSConfig        `yaml:"aws"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// BaseURL is the public address embedded in pixel and link URLs.
	BaseURL string `yaml:"base_url"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// GetHost returns the listen host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreSQLite   = "sqlite"
)

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Type          string `yaml:"type"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	SQLitePath    string `yaml:"sqlite_path"`
	LockTTLMillis int    `yaml:"lock_ttl_ms"`
}

// LockTTL returns the per-session lock lifetime.
func (c StoreConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMillis) * time.Millisecond
}

// SyncConfig holds the agent's sync settings.
type SyncConfig struct {
	RemoteURL       string `yaml:"remote_url"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	TriggerQueueURL string `yaml:"trigger_queue_url"`
}

// Interval returns the periodic sync interval.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns the per round-trip timeout.
func (c SyncConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrackingConfig holds user-facing tracking switches.
type TrackingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Notifier kinds.
const (
	NotifyLog = "log"
	NotifySQS = "sqs"
	NotifySES = "ses"
)

// NotifyConfig configures first-open notifications.
type NotifyConfig struct {
	Type     string `yaml:"type"`
	QueueURL string `yaml:"queue_url"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Title    string `yaml:"title"`
	Template string `yaml:"template"`
}

// EnrichmentConfig configures client enrichment.
type EnrichmentConfig struct {
	// GeoLookupURL is an ip-api style endpoint; "{ip}" is replaced by the
	// address. Empty disables geolocation.
	GeoLookupURL string `yaml:"geo_lookup_url"`
	CacheMinutes int    `yaml:"cache_minutes"`
}

// CacheTTL returns how long resolved locations are kept.
func (c EnrichmentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheMinutes) * time.Minute
}

// RateLimitConfig bounds pixel and link requests per client IP.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the rate limit window.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ArchiveConfig configures snapshots taken before a clear.
type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

// AWSConfig holds AWS credentials. Empty keys fall back to the default
// credential chain.
type AWSConfig struct {
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Load builds an aws.Config from the section.
func (c AWSConfig) Load(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKey != "" && c.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the configuration file. An empty path yields the
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := Config{Tracking: TrackingConfig{Enabled: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreMemory
	}
	if cfg.Store.DynamoDBTable == "" {
		cfg.Store.DynamoDBTable = "tracking-sessions"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "tracking.db"
	}
	if cfg.Store.LockTTLMillis == 0 {
		cfg.Store.LockTTLMillis = 5000
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Sync.TimeoutSeconds == 0 {
		cfg.Sync.TimeoutSeconds = 30
	}
	if cfg.Notify.Type == "" {
		cfg.Notify.Type = NotifyLog
	}
	if cfg.Notify.Title == "" {
		cfg.Notify.Title = "Email Opened!"
	}
	if cfg.Notify.Template == "" {
		cfg.Notify.Template = `Your email "{{ subject }}" was just opened by one of the recipients.`
	}
	if cfg.Enrichment.CacheMinutes == 0 {
		cfg.Enrichment.CacheMinutes = 60
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 100
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 15 * 60
	}
	if cfg.Archive.S3Prefix == "" {
		cfg.Archive.S3Prefix = "tracking-archive"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in a container.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	// A connection string implies its backend unless the file chose one.
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
		if cfg.Store.Type == StoreMemory {
			cfg.Store.Type = StoreRedis
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
		if cfg.Store.Type == StoreMemory {
			cfg.Store.Type = StorePostgres
		}
	}
	if v := os.Getenv("SYNC_REMOTE_URL"); v != "" {
		cfg.Sync.RemoteURL = v
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.Notify.QueueURL = v
		cfg.Sync.TriggerQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRACKING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRACKING_ENABLED: %w", err)
		}
		cfg.Tracking.Enabled = enabled
	}

	return cfg, nil
}
