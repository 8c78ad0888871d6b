// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Ledger drivers.
const (
	LedgerMemory   = "memory"
	LedgerEthereum = "ethereum"
)

// Blob drivers.
const (
	BlobMemory = "memory"
	BlobIPFS   = "ipfs"
	BlobS3     = "s3"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string `env:"KYC_ADDR" envDefault:":8080"`
	LogFormat string `env:"KYC_LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"KYC_LOG_LEVEL" envDefault:"info"`

	Database DatabaseConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Blob     BlobConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Limits   LimitsConfig
}

// DatabaseConfig selects the Postgres store. An empty URL keeps records in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the shared rate limit store. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"500ms"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"500ms"`
}

type LedgerConfig struct {
	Driver             string        `env:"LEDGER_DRIVER" envDefault:"memory"`
	RPCURL             string        `env:"ETH_RPC_URL"`
	PrivateKey         string        `env:"ETH_PRIVATE_KEY"`
	ConfirmationBlocks uint64        `env:"ETH_CONFIRMATION_BLOCKS" envDefault:"12"`
	FinalityDepth      uint64        `env:"LEDGER_FINALITY_DEPTH" envDefault:"64"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
}

type BlobConfig struct {
	Driver     string `env:"BLOB_DRIVER" envDefault:"memory"`
	IPFSAPIURL string `env:"IPFS_API_URL" envDefault:"localhost:5001"`
	S3Bucket   string `env:"S3_BUCKET"`
	AWSRegion  string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// KafkaConfig enables audit fan-out when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"kyc.audit"`
	Buffer     int      `env:"KAFKA_AUDIT_BUFFER" envDefault:"1024"`
}

type AuthConfig struct {
	JWTSecret string `env:"ADMIN_JWT_SECRET"`
	JWTIssuer string `env:"ADMIN_JWT_ISSUER" envDefault:"kycvault"`
}

type LimitsConfig struct {
	MaxDocumentBytes int64         `env:"MAX_DOCUMENT_BYTES" envDefault:"5242880"`
	BulkConcurrency  int           `env:"BULK_CONCURRENCY" envDefault:"8"`
	VerifyRateLimit  int           `env:"VERIFY_RATE_LIMIT" envDefault:"60"`
	VerifyRateWindow time.Duration `env:"VERIFY_RATE_WINDOW" envDefault:"1m"`
	DisableRateLimit bool          `env:"DISABLE_RATE_LIMIT"`
}

// FromEnv parses and validates configuration from the process environment.
func FromEnv() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks driver selections and the settings they depend on.
func (c Server) Validate() error {
	var errs []error
	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerEthereum:
		if c.Ledger.RPCURL == "" || c.Ledger.PrivateKey == "" {
			errs = append(errs, errors.New("ETH_RPC_URL and ETH_PRIVATE_KEY are required for the ethereum ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver))
	}
	switch c.Blob.Driver {
	case BlobMemory, BlobIPFS:
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 blob store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_DRIVER %q", c.Blob.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required"))
	}
	if c.Limits.VerifyRateLimit <= 0 || c.Limits.VerifyRateWindow <= 0 {
		errs = append(errs, errors.New("VERIFY_RATE_LIMIT and VERIFY_RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}
