package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/investair/holdwatch/resolve"
	"github.com/investair/holdwatch/retry"
)

// Config holds the full pipeline configuration. It is built once at
// start-up and passed by reference to every worker; there is no
// process-wide mutable state.
type Config struct {
	// BucketDir is the root of the filesystem-backed object store.
	BucketDir string `yaml:"bucket_dir"`
	// Prefix limits a run to object keys under this prefix (e.g. one
	// YYYYMMDD day folder). Empty processes the whole bucket.
	Prefix string `yaml:"prefix"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// ExportDir receives the tabular run artifacts.
	ExportDir string `yaml:"export_dir"`
	// Workers bounds the extraction worker pool.
	Workers int `yaml:"workers"`
	// SimilarityThreshold is the 0-100 clustering cut-off.
	SimilarityThreshold int `yaml:"similarity_threshold"`
	// RetryAttempts is the per-call budget for object-store and OCR calls.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBackoffMS is the linear backoff step in milliseconds.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	// OCR configures the vision fallback.
	OCR OCRConfig `yaml:"ocr"`
}

// OCRConfig configures the Gemini-backed recognizer. When disabled,
// documents failing the keyword gate are recorded as extraction failures.
type OCRConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		BucketDir:           "bucket",
		DBPath:              "holdwatch.db",
		ExportDir:           "exports",
		Workers:             8,
		SimilarityThreshold: resolve.DefaultThreshold,
		RetryAttempts:       3,
		RetryBackoffMS:      500,
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks required fields and value sanity.
func (c *Config) Validate() error {
	if c.BucketDir == "" {
		return fmt.Errorf("bucket_dir is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.ExportDir == "" {
		return fmt.Errorf("export_dir is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.SimilarityThreshold < 1 || c.SimilarityThreshold > 100 {
		return fmt.Errorf("similarity_threshold must be in 1..100")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be > 0")
	}
	if c.OCR.Enabled && c.OCR.APIKey == "" {
		return fmt.Errorf("ocr.api_key is required when ocr is enabled")
	}
	return nil
}

// RetryPolicy builds the single retry policy applied to every network and
// OCR call in the run.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.RetryAttempts,
		Backoff:  retry.Linear(time.Duration(c.RetryBackoffMS) * time.Millisecond),
	}
}
