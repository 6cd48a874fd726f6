package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Storage and ciphertext backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// MinAuthSecretLen is the shortest HS256 grant secret Validate accepts.
const MinAuthSecretLen = 32

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Entry storage
	StorageBackend  string        `env:"STORAGE_BACKEND" envDefault:"postgres"`
	ShardConfigPath string        `env:"SHARD_CONFIG_PATH"`
	NumShards       int           `env:"NUM_SHARDS" envDefault:"64"`
	QueryTimeout    time.Duration `env:"QUERY_TIMEOUT" envDefault:"5s"`

	// Contract
	ContractAddress string `env:"CONTRACT_ADDRESS" envDefault:"0x5fbdb2315678afecb367f032d93f642f64180aa3"`
	MaxTextChars    int    `env:"MAX_TEXT_CHARS" envDefault:"512"`

	// Coprocessor
	FHEKeyDir         string `env:"FHE_KEY_DIR"`
	FHELogN           int    `env:"FHE_LOG_N" envDefault:"12"`
	CiphertextBackend string `env:"CIPHERTEXT_BACKEND" envDefault:"postgres"`
	InputSigningSeed  string `env:"INPUT_SIGNING_SEED"`

	S3Bucket    string `env:"S3_BUCKET" envDefault:"diary-ciphertexts"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	// Decryption and submission grants
	AuthSecret       string        `env:"AUTH_SECRET"`
	AuthTTL          time.Duration `env:"AUTH_TTL" envDefault:"15m"`
	AuthIssueEnabled bool          `env:"AUTH_ISSUE_ENABLED" envDefault:"false"`

	// Event delivery
	EventPollInterval    time.Duration `env:"EVENT_POLL_INTERVAL" envDefault:"1s"`
	EventBatchSize       int           `env:"EVENT_BATCH_SIZE" envDefault:"100"`
	EventRetryMax        int           `env:"EVENT_RETRY_MAX" envDefault:"3"`
	EventRetryBackoff    time.Duration `env:"EVENT_RETRY_BACKOFF" envDefault:"100ms"`
	EventRPCTimeout      time.Duration `env:"EVENT_RPC_TIMEOUT" envDefault:"5s"`
	EventBreakerFailures int           `env:"EVENT_BREAKER_FAILURES" envDefault:"5"`
	EventBreakerReset    time.Duration `env:"EVENT_BREAKER_RESET" envDefault:"30s"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.ShardConfigPath == "" {
			errs = append(errs, errors.New("SHARD_CONFIG_PATH is required for the postgres storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q: want memory or postgres", c.StorageBackend))
	}

	switch c.CiphertextBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.StorageBackend != BackendPostgres {
			errs = append(errs, errors.New("CIPHERTEXT_BACKEND postgres requires STORAGE_BACKEND postgres"))
		}
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 ciphertext backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("CIPHERTEXT_BACKEND %q: want memory, postgres or s3", c.CiphertextBackend))
	}

	if c.NumShards < 1 {
		errs = append(errs, fmt.Errorf("NUM_SHARDS must be positive, got %d", c.NumShards))
	}
	if c.MaxTextChars < 1 {
		errs = append(errs, fmt.Errorf("MAX_TEXT_CHARS must be positive, got %d", c.MaxTextChars))
	}
	switch {
	case c.AuthSecret == "":
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	case len(c.AuthSecret) < MinAuthSecretLen:
		errs = append(errs, fmt.Errorf("AUTH_SECRET must be at least %d bytes, got %d", MinAuthSecretLen, len(c.AuthSecret)))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
