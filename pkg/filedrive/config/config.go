package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devJWTSecret = "filedrive-dev-secret-change-in-production"

type Config struct {
	// Application
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"FILEDRIVE_BASE_URL" envDefault:"http://localhost:8080"`

	// Database
	DBPath string `env:"FILEDRIVE_DB_PATH" envDefault:"filedrive.db"`

	// Security
	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	// Storage: "local" keeps objects on disk and signs download URLs with
	// StorageHMACKey, "s3" talks to any S3-compatible endpoint.
	StorageDriver  string        `env:"STORAGE_DRIVER" envDefault:"local"`
	StorageDir     string        `env:"STORAGE_DIR" envDefault:"./data/objects"`
	StorageHMACKey string        `env:"STORAGE_HMAC_KEY"`
	URLExpiry      time.Duration `env:"STORAGE_URL_EXPIRY" envDefault:"1h"`
	S3Region       string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket       string        `env:"S3_BUCKET"`
	S3AccessKey    string        `env:"S3_ACCESS_KEY"`
	S3SecretKey    string        `env:"S3_SECRET_KEY"`
	S3Endpoint     string        `env:"S3_ENDPOINT"` // Optional: MinIO, R2, DO Spaces

	// Upload limits per file type, in bytes
	MaxImageSize int64 `env:"MAX_IMAGE_SIZE" envDefault:"10485760"`
	MaxPDFSize   int64 `env:"MAX_PDF_SIZE" envDefault:"26214400"`
	MaxCSVSize   int64 `env:"MAX_CSV_SIZE" envDefault:"5242880"`

	// Purge of files marked for deletion
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`
	PurgeAfter    time.Duration `env:"PURGE_AFTER" envDefault:"720h"`

	// Observability (optional)
	SentryDSN string `env:"SENTRY_DSN"`
}

// Load reads .env (when present) and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.StorageHMACKey == "" && !cfg.IsProduction() {
		cfg.StorageHMACKey = cfg.JWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	}

	switch c.StorageDriver {
	case "local":
		if c.StorageDir == "" {
			errs = append(errs, errors.New("STORAGE_DIR is required for local storage"))
		}
		if c.StorageHMACKey == "" {
			errs = append(errs, errors.New("STORAGE_HMAC_KEY is required for local storage"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	if c.MaxImageSize <= 0 || c.MaxPDFSize <= 0 || c.MaxCSVSize <= 0 {
		errs = append(errs, errors.New("upload size limits must be positive"))
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, errors.New("PURGE_INTERVAL must be positive"))
	}
	if c.PurgeAfter < 0 {
		errs = append(errs, errors.New("PURGE_AFTER must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
