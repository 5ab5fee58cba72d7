package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// Storage and upload backends
const (
	BackendFilesystem = "filesystem"
	BackendGCS        = "gcs"
	BackendContent    = "content"
)

var (
	// ErrInvalidConfig is returned by Validate
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds process-wide settings
type Config struct {
	HTTPAddr       string `yaml:"http_addr"`
	StorageDir     string `yaml:"storage_dir"`
	StorageBackend string `yaml:"storage_backend"`
	UploadBackend  string `yaml:"upload_backend"`
	GCSBucket      string `yaml:"gcs_bucket"`
	PublicBaseURL  string `yaml:"public_base_url"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// BatchDatabaseURL selects the Postgres batch store when set
	BatchDatabaseURL string `yaml:"batch_database_url"`

	// DBOSDatabaseURL enables the durable queue when set
	DBOSDatabaseURL string `yaml:"dbos_system_database_url"`
	DBOSQueueName   string `yaml:"dbos_queue_name"`
	DBOSAppName     string `yaml:"dbos_app_name"`
	DBOSAppVersion  string `yaml:"dbos_app_version"`

	Concurrency int `yaml:"concurrency"`

	CleanupMaxAge   time.Duration `yaml:"cleanup_max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the built-in settings
func Defaults() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		StorageDir:     "./storage",
		StorageBackend: BackendFilesystem,
		UploadBackend:  BackendFilesystem,
		OpenAIModel:    "gpt-4o-mini",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		DBOSQueueName:  "default",
		DBOSAppName:    "cutimage-pipeline",
		Concurrency:    4,
		CleanupMaxAge:  48 * time.Hour,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads .env (if present), then the YAML file named by PIPELINE_CONFIG,
// then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PIPELINE_HTTP_ADDR", &c.HTTPAddr)
	str("STORAGE_DIR", &c.StorageDir)
	str("STORAGE_BACKEND", &c.StorageBackend)
	str("UPLOAD_BACKEND", &c.UploadBackend)
	str("GCS_BUCKET", &c.GCSBucket)
	str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	str("OPENAI_MODEL", &c.OpenAIModel)
	str("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	str("BATCH_DATABASE_URL", &c.BatchDatabaseURL)
	str("DBOS_SYSTEM_DATABASE_URL", &c.DBOSDatabaseURL)
	str("DBOS_QUEUE_NAME", &c.DBOSQueueName)
	str("DBOS_APP_NAME", &c.DBOSAppName)
	str("DBOS_APP_VERSION", &c.DBOSAppVersion)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("PIPELINE_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Errorf("%w: PIPELINE_CONCURRENCY: %s", ErrInvalidConfig, err.Error())
		}
		c.Concurrency = n
	}
	if v, ok := lookup("CLEANUP_MAX_HOURS"); ok && v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Errorf("%w: CLEANUP_MAX_HOURS: %s", ErrInvalidConfig, err.Error())
		}
		c.CleanupMaxAge = time.Duration(h * float64(time.Hour))
	}
	if v, ok := lookup("CLEANUP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Errorf("%w: CLEANUP_INTERVAL: %s", ErrInvalidConfig, err.Error())
		}
		c.CleanupInterval = d
	}
	return nil
}

// Validate checks backend names and numeric bounds
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendFilesystem:
	case BackendGCS:
		if c.GCSBucket == "" {
			return errors.Errorf("%w: GCS_BUCKET is required for the gcs backend", ErrInvalidConfig)
		}
	default:
		return errors.Errorf("%w: unknown STORAGE_BACKEND %q", ErrInvalidConfig, c.StorageBackend)
	}

	switch c.UploadBackend {
	case BackendFilesystem, BackendContent:
	case BackendGCS:
		if c.GCSBucket == "" {
			return errors.Errorf("%w: GCS_BUCKET is required for the gcs backend", ErrInvalidConfig)
		}
	default:
		return errors.Errorf("%w: unknown UPLOAD_BACKEND %q", ErrInvalidConfig, c.UploadBackend)
	}

	if c.Concurrency < 1 {
		return errors.Errorf("%w: PIPELINE_CONCURRENCY must be at least 1", ErrInvalidConfig)
	}
	if c.CleanupMaxAge <= 0 {
		return errors.Errorf("%w: CLEANUP_MAX_HOURS must be positive", ErrInvalidConfig)
	}
	if c.CleanupInterval < 0 {
		return errors.Errorf("%w: CLEANUP_INTERVAL must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Durable reports whether runs go through the DBOS queue
func (c *Config) Durable() bool {
	return strings.TrimSpace(c.DBOSDatabaseURL) != ""
}
