package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/status"
)

// Prefix is prepended to every variable name.
const Prefix = "XPOSTD_"

// Config captures the full runtime configuration of the daemon.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Queue   QueueConfig
	Retry   RetryConfig
	Publish PublishConfig
	Upload  UploadConfig
	Status  StatusConfig
	Kafka   KafkaConfig
}

type AppConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	APIKey       string        `env:"API_KEY"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"104857600"`
}

type QueueConfig struct {
	GeneralConcurrency int           `env:"GENERAL_CONCURRENCY" envDefault:"100"`
	PublishLimit       int           `env:"PUBLISH_LIMIT" envDefault:"10"`
	PublishWindow      time.Duration `env:"PUBLISH_WINDOW" envDefault:"60s"`
	MinPostSpacing     time.Duration `env:"MIN_POST_SPACING" envDefault:"0s"`
}

type RetryConfig struct {
	MaxRetries int           `env:"RETRY_MAX" envDefault:"3"`
	BaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"3s"`
	RetryAfter time.Duration `env:"RETRY_AFTER_DEFAULT" envDefault:"60s"`
}

type PublishConfig struct {
	DryRun           bool          `env:"DRY_RUN" envDefault:"false"`
	DryRunLatency    time.Duration `env:"DRY_RUN_LATENCY" envDefault:"500ms"`
	CaptionMinLength int           `env:"CAPTION_MIN_LENGTH" envDefault:"50"`
	CaptionAdvisory  string        `env:"CAPTION_ADVISORY" envDefault:"⚠️ Standard Advisory: Please check the official portal for more details."`
}

type UploadConfig struct {
	ChunkSize      int           `env:"UPLOAD_CHUNK_SIZE" envDefault:"4194304"`
	ChunkThreshold int64         `env:"UPLOAD_CHUNK_THRESHOLD" envDefault:"5242880"`
	PollInterval   time.Duration `env:"UPLOAD_POLL_INTERVAL" envDefault:"5s"`
	MaxPolls       int           `env:"UPLOAD_MAX_POLLS" envDefault:"6"`
	MaxMediaBytes  int64         `env:"UPLOAD_MAX_MEDIA_BYTES" envDefault:"536870912"`
	FetchTimeout   time.Duration `env:"UPLOAD_FETCH_TIMEOUT" envDefault:"2m"`
}

type StatusConfig struct {
	BroadcastRate   int `env:"STATUS_BROADCAST_RATE" envDefault:"50"`
	SubscriberQueue int `env:"STATUS_SUBSCRIBER_QUEUE" envDefault:"64"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	StatusTopic      string        `env:"KAFKA_STATUS_TOPIC" envDefault:"xpostd.status"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

// Load parses the process environment into Config.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the queue cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.Queue.GeneralConcurrency <= 0:
		return fmt.Errorf("%sGENERAL_CONCURRENCY must be positive", Prefix)
	case c.Queue.PublishLimit <= 0:
		return fmt.Errorf("%sPUBLISH_LIMIT must be positive", Prefix)
	case c.Queue.PublishWindow <= 0:
		return fmt.Errorf("%sPUBLISH_WINDOW must be positive", Prefix)
	case c.Retry.MaxRetries < 0:
		return fmt.Errorf("%sRETRY_MAX must not be negative", Prefix)
	case c.Upload.ChunkSize <= 0:
		return fmt.Errorf("%sUPLOAD_CHUNK_SIZE must be positive", Prefix)
	}
	return nil
}

// KafkaEnabled reports whether status events should go to a broker.
func (c *Config) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }

// PublishConfig maps the settings onto the orchestration layer.
func (c *Config) PublishConfig() publish.Config {
	cfg := publish.DefaultConfig()
	cfg.GeneralConcurrency = c.Queue.GeneralConcurrency
	cfg.Publish = queue.PublishConfig{
		Limit:      c.Queue.PublishLimit,
		Window:     c.Queue.PublishWindow,
		MinSpacing: c.Queue.MinPostSpacing,
	}
	cfg.MaxRetries = c.Retry.MaxRetries
	cfg.BaseDelay = c.Retry.BaseDelay
	cfg.RetryAfter = c.Retry.RetryAfter
	cfg.DryRun = c.Publish.DryRun
	cfg.DryRunLatency = c.Publish.DryRunLatency
	cfg.CaptionMinLength = c.Publish.CaptionMinLength
	cfg.CaptionAdvisory = c.Publish.CaptionAdvisory
	cfg.ChunkSize = c.Upload.ChunkSize
	cfg.ChunkThreshold = c.Upload.ChunkThreshold
	cfg.PollInterval = c.Upload.PollInterval
	cfg.MaxPolls = c.Upload.MaxPolls
	cfg.MaxMediaBytes = c.Upload.MaxMediaBytes
	if c.Upload.FetchTimeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: c.Upload.FetchTimeout}
	}
	return cfg
}

// StatusKafkaConfig maps the broker settings onto the status sink.
func (c *Config) StatusKafkaConfig() status.KafkaConfig {
	return status.KafkaConfig{
		Brokers:      c.Kafka.Brokers,
		Topic:        c.Kafka.StatusTopic,
		BatchSize:    c.Kafka.BatchSize,
		BatchTimeout: c.Kafka.BatchTimeout,
		Compression:  c.Kafka.CompressionCodec,
	}
}
