// Package config provides configuration for the compactor binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for compaction runs and the planner server.
type Config struct {
	// DataDir is the base directory for local state
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Jobs configures multi-job runs
	Jobs JobsConfig `json:"jobs" yaml:"jobs"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is prepended to every task location
	Prefix string `json:"prefix" yaml:"prefix"`

	// MaxRetries bounds retries of a single request
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// EngineConfig holds query engine configuration.
type EngineConfig struct {
	// BatchParallelism bounds concurrent file scans per registered table
	BatchParallelism int `json:"batch_parallelism" yaml:"batch_parallelism"`

	// TargetPartitions is the number of output streams to produce
	TargetPartitions int `json:"target_partitions" yaml:"target_partitions"`

	// BatchSize is the maximum number of rows per record batch
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// CacheDir is where scanned files are materialized
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// MaxCacheBytes bounds the cache directory (0 = unbounded)
	MaxCacheBytes int64 `json:"max_cache_bytes" yaml:"max_cache_bytes"`

	// PoolSize is the maximum number of open SQLite connections
	PoolSize int `json:"pool_size" yaml:"pool_size"`
}

// ServerConfig holds planner server configuration.
type ServerConfig struct {
	// GRPCAddr is the gRPC listen address
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// JobsConfig bounds concurrent jobs of a multi-job run. The bound adapts
// to the failure rate of recent jobs.
type JobsConfig struct {
	// MaxConcurrency is the upper bound of jobs run at once
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// FailureThreshold is the failure rate above which concurrency backs off
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`

	// Window is how long job outcomes count towards the failure rate
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/arkilian",
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
		},
		Engine: EngineConfig{
			BatchParallelism: 4,
			TargetPartitions: 4,
			BatchSize:        8192,
			PoolSize:         64,
		},
		Server: ServerConfig{
			GRPCAddr:        ":9090",
			ShutdownTimeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			MaxConcurrency:   4,
			FailureThreshold: 0.25,
			Window:           10 * time.Minute,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/arkilian"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Engine.CacheDir == "" {
		c.Engine.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Engine.BatchParallelism < 1 {
		return fmt.Errorf("engine.batch_parallelism must be positive, got %d", c.Engine.BatchParallelism)
	}
	if c.Engine.TargetPartitions < 1 {
		return fmt.Errorf("engine.target_partitions must be positive, got %d", c.Engine.TargetPartitions)
	}
	if c.Engine.BatchSize < 1 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.MaxCacheBytes < 0 {
		return fmt.Errorf("engine.max_cache_bytes must not be negative")
	}
	if c.Engine.PoolSize < 1 {
		return fmt.Errorf("engine.pool_size must be positive, got %d", c.Engine.PoolSize)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Jobs.MaxConcurrency < 1 {
		return fmt.Errorf("jobs.max_concurrency must be positive, got %d", c.Jobs.MaxConcurrency)
	}
	if c.Jobs.FailureThreshold <= 0 || c.Jobs.FailureThreshold > 1 {
		return fmt.Errorf("jobs.failure_threshold must be in (0, 1], got %g", c.Jobs.FailureThreshold)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// envBindings maps ARKILIAN_* variables onto config fields. Values that do
// not parse leave the field untouched.
func envBindings(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"ARKILIAN_DATA_DIR":                 &cfg.DataDir,
		"ARKILIAN_STORAGE_TYPE":             &cfg.Storage.Type,
		"ARKILIAN_STORAGE_PATH":             &cfg.Storage.Path,
		"ARKILIAN_S3_BUCKET":                &cfg.Storage.S3.Bucket,
		"ARKILIAN_S3_REGION":                &cfg.Storage.S3.Region,
		"ARKILIAN_S3_ENDPOINT":              &cfg.Storage.S3.Endpoint,
		"ARKILIAN_S3_USE_PATH_STYLE":        &cfg.Storage.S3.UsePathStyle,
		"ARKILIAN_S3_PREFIX":                &cfg.Storage.S3.Prefix,
		"ARKILIAN_S3_MAX_RETRIES":           &cfg.Storage.S3.MaxRetries,
		"ARKILIAN_ENGINE_BATCH_PARALLELISM": &cfg.Engine.BatchParallelism,
		"ARKILIAN_ENGINE_TARGET_PARTITIONS": &cfg.Engine.TargetPartitions,
		"ARKILIAN_ENGINE_BATCH_SIZE":        &cfg.Engine.BatchSize,
		"ARKILIAN_ENGINE_CACHE_DIR":         &cfg.Engine.CacheDir,
		"ARKILIAN_ENGINE_MAX_CACHE_BYTES":   &cfg.Engine.MaxCacheBytes,
		"ARKILIAN_ENGINE_POOL_SIZE":         &cfg.Engine.PoolSize,
		"ARKILIAN_GRPC_ADDR":                &cfg.Server.GRPCAddr,
		"ARKILIAN_SHUTDOWN_TIMEOUT":         &cfg.Server.ShutdownTimeout,
		"ARKILIAN_JOBS_MAX_CONCURRENCY":     &cfg.Jobs.MaxConcurrency,
		"ARKILIAN_JOBS_FAILURE_THRESHOLD":   &cfg.Jobs.FailureThreshold,
		"ARKILIAN_JOBS_WINDOW":              &cfg.Jobs.Window,
	}
}

// LoadFromEnv overrides cfg with ARKILIAN_* environment variables.
func LoadFromEnv(cfg *Config) {
	for name, field := range envBindings(cfg) {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		switch f := field.(type) {
		case *string:
			*f = v
		case *bool:
			*f = v == "true" || v == "1"
		case *int:
			fmt.Sscanf(v, "%d", f)
		case *int64:
			fmt.Sscanf(v, "%d", f)
		case *float64:
			fmt.Sscanf(v, "%g", f)
		case *time.Duration:
			if d, err := time.ParseDuration(v); err == nil {
				*f = d
			}
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Engine.CacheDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// RunLogPath returns the path of the run ledger database.
func (c *Config) RunLogPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}
