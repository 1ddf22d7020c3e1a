package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	"eduoj/internal/common/mq"
	"eduoj/internal/common/storage"
	"eduoj/internal/contest/service"
	"eduoj/internal/language"
	"eduoj/pkg/utils/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCAddr        = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	envDatabaseDSN = "EDUOJ_DB_DSN"
	envJWTSecret   = "EDUOJ_JWT_SECRET"
	envJudgeToken  = "EDUOJ_JUDGE_TOKEN"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the health server address.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the SQL driver and its pool.
type DatabaseConfig struct {
	Driver        string `yaml:"driver" validate:"oneof=mysql postgres sqlite"`
	db.PoolConfig `yaml:",inline"`
}

// AuthConfig holds token secrets. Both may come from the environment.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwtSecret" validate:"required"`
	Issuer     string `yaml:"issuer"`
	JudgeToken string `yaml:"judgeToken" validate:"required,min=16"`
}

// TopicConfig names the Kafka topics the service uses.
type TopicConfig struct {
	Judge         string `yaml:"judge" validate:"required"`
	Results       string `yaml:"results" validate:"required"`
	ResultsDLQ    string `yaml:"resultsDLQ"`
	ContestEvents string `yaml:"contestEvents" validate:"required"`
	ConsumerGroup string `yaml:"consumerGroup" validate:"required"`
}

// ConsumerConfig tunes the judge result consumer.
type ConsumerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"maxRetries"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
}

func (c ConsumerConfig) toSubscribeOptions(group, dlq string) *mq.SubscribeOptions {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   group,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: dlq,
	}
	opts.SetDefaults()
	return opts
}

// ContestConfig holds domain settings.
type ContestConfig struct {
	ArtifactBucket     string                     `yaml:"artifactBucket"`
	MaxCodeBytes       int                        `yaml:"maxCodeBytes" validate:"min=0"`
	MaxUploadBytes     int64                      `yaml:"maxUploadBytes" validate:"min=0"`
	IdempotencyTTL     time.Duration              `yaml:"idempotencyTTL"`
	ScoreboardTTL      time.Duration              `yaml:"scoreboardTTL"`
	TaskCacheTTL       time.Duration              `yaml:"taskCacheTTL"`
	TaskEmptyTTL       time.Duration              `yaml:"taskEmptyTTL"`
	SubmissionCacheTTL time.Duration              `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration              `yaml:"submissionEmptyTTL"`
	RateLimit          service.RateLimitConfig    `yaml:"rateLimit"`
	Retry              service.PublishRetryConfig `yaml:"publishRetry"`
	Timeouts           service.TimeoutConfig      `yaml:"timeouts"`
	ResultConsumer     ConsumerConfig             `yaml:"resultConsumer"`
	Languages          []language.Spec            `yaml:"languages"`
}

// AppConfig holds contest-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	GRPC     GRPCConfig          `yaml:"grpc"`
	Logger   logger.Config       `yaml:"logger"`
	Database DatabaseConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Auth     AuthConfig          `yaml:"auth"`
	Topics   TopicConfig         `yaml:"topics"`
	Contest  ContestConfig       `yaml:"contest"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadEnvFile preloads secrets from a .env file. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv(envDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(envJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(envJudgeToken); v != "" {
		cfg.Auth.JudgeToken = v
	}
	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}

	if cfg.Topics.Judge == "" {
		cfg.Topics.Judge = "judge.job"
	}
	if cfg.Topics.Results == "" {
		cfg.Topics.Results = "judge.result"
	}
	if cfg.Topics.ResultsDLQ == "" {
		cfg.Topics.ResultsDLQ = cfg.Topics.Results + ".dlq"
	}
	if cfg.Topics.ContestEvents == "" {
		cfg.Topics.ContestEvents = "contest.events"
	}
	if cfg.Topics.ConsumerGroup == "" {
		cfg.Topics.ConsumerGroup = "contest-service"
	}

	c := &cfg.Contest
	if c.ArtifactBucket == "" {
		c.ArtifactBucket = cfg.MinIO.Bucket
	}
	if c.MaxCodeBytes == 0 {
		c.MaxCodeBytes = 64 * 1024
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 1 << 20
	}
	if c.ScoreboardTTL == 0 {
		c.ScoreboardTTL = 30 * time.Second
	}
	if c.TaskCacheTTL == 0 {
		c.TaskCacheTTL = 30 * time.Minute
	}
	if c.TaskEmptyTTL == 0 {
		c.TaskEmptyTTL = time.Minute
	}
	if c.SubmissionCacheTTL == 0 {
		c.SubmissionCacheTTL = 10 * time.Minute
	}
	if c.SubmissionEmptyTTL == 0 {
		c.SubmissionEmptyTTL = 30 * time.Second
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.UserMax == 0 {
		c.RateLimit.UserMax = 20
	}
	if c.RateLimit.IPMax == 0 {
		c.RateLimit.IPMax = 60
	}
	if c.Timeouts.DB == 0 {
		c.Timeouts.DB = 3 * time.Second
	}
	if c.Timeouts.Cache == 0 {
		c.Timeouts.Cache = time.Second
	}
	if c.Timeouts.MQ == 0 {
		c.Timeouts.MQ = 3 * time.Second
	}
	if c.Timeouts.Storage == 0 {
		c.Timeouts.Storage = 5 * time.Second
	}
}
