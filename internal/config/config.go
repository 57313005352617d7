package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the try-on server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Astria    AstriaConfig
	Callback  CallbackConfig
	Blob      BlobConfig
	Tuning    TuningConfig
	TryOn     TryOnConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	PublicBaseURL   string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectRetries is how many extra pings Connect makes before giving up.
	ConnectRetries int
}

type RedisConfig struct {
	URL            string
	StatusCacheTTL time.Duration
}

// AstriaConfig configures the external tuning service client.
type AstriaConfig struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	SubmitRetries      int
	ModelType          string
	Branch             string
	IdentityBaseTuneID string
	ProductBaseTuneID  string
}

type CallbackConfig struct {
	Secret string
}

type BlobConfig struct {
	Driver     string
	FSPath     string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	GCSBucket  string
}

type TuningConfig struct {
	UploadConcurrency int
	MaxUploadBytes    int64
}

type TryOnConfig struct {
	Renderer      string
	RenderTimeout time.Duration
}

type BootstrapConfig struct {
	AdminKey     string
	AdminOwnerID string
}

var validBlobDrivers = map[string]bool{
	"filesystem": true,
	"s3":         true,
	"gcs":        true,
}

var validRenderers = map[string]bool{
	"simulated": true,
	"astria":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("TRYON_PORT", 8080),
			Env:             envString("TRYON_ENV", "development"),
			PublicBaseURL:   strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectRetries:  envInt("DATABASE_CONNECT_RETRIES", 5),
		},
		Redis: RedisConfig{
			URL:            os.Getenv("REDIS_URL"),
			StatusCacheTTL: envDuration("STATUS_CACHE_TTL", 30*time.Minute),
		},
		Astria: AstriaConfig{
			BaseURL:            strings.TrimRight(envString("ASTRIA_BASE_URL", "https://api.astria.ai"), "/"),
			APIKey:             os.Getenv("ASTRIA_API_KEY"),
			Timeout:            envDuration("ASTRIA_TIMEOUT", 30*time.Second),
			SubmitRetries:      envInt("ASTRIA_SUBMIT_RETRIES", 2),
			ModelType:          envString("ASTRIA_MODEL_TYPE", "lora"),
			Branch:             envString("ASTRIA_BRANCH", "fast"),
			IdentityBaseTuneID: os.Getenv("ASTRIA_IDENTITY_BASE_TUNE_ID"),
			ProductBaseTuneID:  envString("ASTRIA_PRODUCT_BASE_TUNE_ID", "1504944"),
		},
		Callback: CallbackConfig{
			Secret: os.Getenv("CALLBACK_SECRET"),
		},
		Blob: BlobConfig{
			Driver:     envString("BLOB_DRIVER", "filesystem"),
			FSPath:     envString("BLOB_FS_PATH", "./data/blobs"),
			S3Bucket:   os.Getenv("BLOB_S3_BUCKET"),
			S3Region:   os.Getenv("BLOB_S3_REGION"),
			S3Endpoint: os.Getenv("BLOB_S3_ENDPOINT"),
			GCSBucket:  os.Getenv("BLOB_GCS_BUCKET"),
		},
		Tuning: TuningConfig{
			UploadConcurrency: envInt("UPLOAD_CONCURRENCY", 4),
			MaxUploadBytes:    int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		TryOn: TryOnConfig{
			Renderer:      envString("TRYON_RENDERER", "simulated"),
			RenderTimeout: envDuration("TRYON_RENDER_TIMEOUT", 120*time.Second),
		},
		Bootstrap: BootstrapConfig{
			AdminKey:     os.Getenv("BOOTSTRAP_ADMIN_KEY"),
			AdminOwnerID: os.Getenv("BOOTSTRAP_ADMIN_OWNER_ID"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CallbackURL is the address the tuning service posts completion notices to.
// The secret is query-escaped.
func (c *Config) CallbackURL() string {
	u := c.Server.PublicBaseURL + "/api/v1/callbacks/tunes"
	if c.Callback.Secret != "" {
		u += "?" + url.Values{"secret": {c.Callback.Secret}}.Encode()
	}
	return u
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.ConnectRetries < 0 {
		return fmt.Errorf("DATABASE_CONNECT_RETRIES must not be negative")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Astria.APIKey == "" {
		return fmt.Errorf("ASTRIA_API_KEY is required")
	}
	if !isHTTPURL(c.Astria.BaseURL) {
		return fmt.Errorf("ASTRIA_BASE_URL must start with http:// or https://, got %q", c.Astria.BaseURL)
	}
	if c.Astria.Timeout <= 0 {
		return fmt.Errorf("ASTRIA_TIMEOUT must be positive")
	}
	if c.Astria.SubmitRetries < 0 {
		return fmt.Errorf("ASTRIA_SUBMIT_RETRIES must not be negative")
	}

	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if !isHTTPURL(c.Server.PublicBaseURL) {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}

	if !validBlobDrivers[c.Blob.Driver] {
		return fmt.Errorf("BLOB_DRIVER must be one of filesystem, s3, gcs; got %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && (c.Blob.S3Bucket == "" || c.Blob.S3Region == "") {
		return fmt.Errorf("BLOB_S3_BUCKET and BLOB_S3_REGION are required when BLOB_DRIVER is s3")
	}
	if c.Blob.Driver == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("BLOB_GCS_BUCKET is required when BLOB_DRIVER is gcs")
	}

	if c.Tuning.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}

	if !validRenderers[c.TryOn.Renderer] {
		return fmt.Errorf("TRYON_RENDERER must be one of simulated, astria; got %q", c.TryOn.Renderer)
	}

	if c.Bootstrap.AdminKey != "" && c.Bootstrap.AdminOwnerID == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_OWNER_ID is required when BOOTSTRAP_ADMIN_KEY is set")
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
