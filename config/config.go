// Package config loads service settings from .env, an optional YAML file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/ingestion"
)

// Backends accepted in DB_BACKEND.
const (
	BackendBadger = "badger"
	BackendBolt   = "bolt"
)

// Config holds every setting. YAML keys are the lower-cased environment
// variable names.
type Config struct {
	EmbeddingModel   string  `yaml:"embedding_model"`
	EmbeddingHost    string  `yaml:"embedding_host"`
	EmbeddingAPIKey  string  `yaml:"embedding_api_key"`
	GenerativeModel  string  `yaml:"generative_model"`
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap"`
	SimilarityMetric string  `yaml:"similarity_metric"`
	SearchMode       string  `yaml:"search_mode"`
	TopKDefault      int     `yaml:"top_k_default"`
	MinScore         float64 `yaml:"min_score"`

	EmbeddingBatchSize int           `yaml:"embedding_batch_size"`
	EmbeddingRPS       float64       `yaml:"embedding_rps"`
	EmbeddingBurst     int           `yaml:"embedding_burst"`
	EmbeddingTimeout   time.Duration `yaml:"embedding_timeout"`
	IndexTimeout       time.Duration `yaml:"index_timeout"`
	RetryMaxAttempts   int           `yaml:"retry_max_attempts"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`

	ReingestPolicy   string `yaml:"reingest_policy"`
	ConcurrentIngest string `yaml:"concurrent_ingest"`

	DBBackend    string `yaml:"db_backend"`
	DBPath       string `yaml:"db_path"`
	DataDir      string `yaml:"data_dir"`
	ManifestPath string `yaml:"manifest_path"`
	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	Workers      int    `yaml:"workers"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingHost:      "http://localhost:11434",
		EmbeddingAPIKey:    "none",
		GenerativeModel:    "gpt-4o-mini",
		ChunkSize:          200,
		ChunkOverlap:       40,
		SimilarityMetric:   string(core.MetricCosine),
		SearchMode:         string(core.SearchExact),
		TopKDefault:        3,
		MinScore:           0,
		EmbeddingBatchSize: 50,
		EmbeddingRPS:       5,
		EmbeddingBurst:     5,
		EmbeddingTimeout:   30 * time.Second,
		IndexTimeout:       10 * time.Second,
		RetryMaxAttempts:   3,
		RetryBaseDelay:     time.Second,
		ReingestPolicy:     string(ingestion.ReingestReplace),
		ConcurrentIngest:   string(ingestion.ConcurrentWait),
		DBBackend:          BackendBadger,
		DBPath:             "./contract_db",
		DataDir:            "./data",
		HTTPAddr:           ":8000",
		LogLevel:           "info",
		Workers:            4,
	}
}

// Load reads .env from the working directory when present, then yamlPath
// when not empty, then the environment, and validates the result.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()
	return load(yamlPath, os.LookupEnv)
}

func load(yamlPath string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", core.ErrConfiguration, yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", core.ErrConfiguration, yamlPath, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var inlineComment = regexp.MustCompile(`\s*#`)

// CleanValue strips an inline comment, surrounding whitespace and one pair
// of matching quotes from a raw environment value.
func CleanValue(v string) string {
	if loc := inlineComment.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return v
}

type binding struct {
	key string
	set func(c *Config, v string) error
}

func str(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*p(c) = v
		return nil
	}
}

func integer(p func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p(c) = n
		return nil
	}
}

func float(p func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p(c) = f
		return nil
	}
}

func duration(p func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p(c) = d
		return nil
	}
}

var bindings = []binding{
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.EmbeddingModel })},
	{"EMBEDDING_HOST", str(func(c *Config) *string { return &c.EmbeddingHost })},
	{"EMBEDDING_API_KEY", str(func(c *Config) *string { return &c.EmbeddingAPIKey })},
	{"GENERATIVE_MODEL", str(func(c *Config) *string { return &c.GenerativeModel })},
	{"CHUNK_SIZE", integer(func(c *Config) *int { return &c.ChunkSize })},
	{"CHUNK_OVERLAP", integer(func(c *Config) *int { return &c.ChunkOverlap })},
	{"SIMILARITY_METRIC", str(func(c *Config) *string { return &c.SimilarityMetric })},
	{"SEARCH_MODE", str(func(c *Config) *string { return &c.SearchMode })},
	{"TOP_K_DEFAULT", integer(func(c *Config) *int { return &c.TopKDefault })},
	{"MIN_SCORE", float(func(c *Config) *float64 { return &c.MinScore })},
	{"EMBEDDING_BATCH_SIZE", integer(func(c *Config) *int { return &c.EmbeddingBatchSize })},
	{"EMBEDDING_RPS", float(func(c *Config) *float64 { return &c.EmbeddingRPS })},
	{"EMBEDDING_BURST", integer(func(c *Config) *int { return &c.EmbeddingBurst })},
	{"EMBEDDING_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.EmbeddingTimeout })},
	{"INDEX_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.IndexTimeout })},
	{"RETRY_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.RetryMaxAttempts })},
	{"RETRY_BASE_DELAY", duration(func(c *Config) *time.Duration { return &c.RetryBaseDelay })},
	{"REINGEST_POLICY", str(func(c *Config) *string { return &c.ReingestPolicy })},
	{"CONCURRENT_INGEST", str(func(c *Config) *string { return &c.ConcurrentIngest })},
	{"DB_BACKEND", str(func(c *Config) *string { return &c.DBBackend })},
	{"DB_PATH", str(func(c *Config) *string { return &c.DBPath })},
	{"DATA_DIR", str(func(c *Config) *string { return &c.DataDir })},
	{"MANIFEST_PATH", str(func(c *Config) *string { return &c.ManifestPath })},
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTPAddr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FILE", str(func(c *Config) *string { return &c.LogFile })},
	{"WORKERS", integer(func(c *Config) *int { return &c.Workers })},
}

// applyEnv overrides fields from set, non-empty variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range bindings {
		raw, ok := lookup(b.key)
		if !ok {
			continue
		}
		v := CleanValue(raw)
		if v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %v", b.key, v, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.EmbeddingModel != "", "EMBEDDING_MODEL is required")
	check(c.EmbeddingHost != "", "EMBEDDING_HOST is required")
	check(c.ChunkSize > 0, "CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	check(c.ChunkOverlap >= 0 && c.ChunkOverlap < c.ChunkSize,
		"CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	if err := core.ValidateMetric(core.Metric(c.SimilarityMetric)); err != nil {
		errs = append(errs, fmt.Errorf("SIMILARITY_METRIC: %v", err))
	}
	if err := core.ValidateSearchMode(core.SearchMode(c.SearchMode)); err != nil {
		errs = append(errs, fmt.Errorf("SEARCH_MODE: %v", err))
	}
	check(c.TopKDefault > 0, "TOP_K_DEFAULT must be positive, got %d", c.TopKDefault)
	check(c.MinScore >= 0 && c.MinScore <= 1, "MIN_SCORE must be in [0, 1], got %g", c.MinScore)
	check(c.EmbeddingBatchSize >= 1 && c.EmbeddingBatchSize <= ai.MaxBatchSize,
		"EMBEDDING_BATCH_SIZE must be between 1 and %d, got %d", ai.MaxBatchSize, c.EmbeddingBatchSize)
	check(c.EmbeddingRPS > 0, "EMBEDDING_RPS must be positive, got %g", c.EmbeddingRPS)
	check(c.EmbeddingBurst > 0, "EMBEDDING_BURST must be positive, got %d", c.EmbeddingBurst)
	check(c.EmbeddingTimeout > 0, "EMBEDDING_TIMEOUT must be positive")
	check(c.IndexTimeout > 0, "INDEX_TIMEOUT must be positive")
	check(c.RetryMaxAttempts > 0, "RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts)
	check(c.RetryBaseDelay >= 0, "RETRY_BASE_DELAY must not be negative")
	if _, err := ingestion.ParseReingestPolicy(c.ReingestPolicy); err != nil {
		errs = append(errs, fmt.Errorf("REINGEST_POLICY: %v", err))
	}
	if _, err := ingestion.ParseConcurrencyPolicy(c.ConcurrentIngest); err != nil {
		errs = append(errs, fmt.Errorf("CONCURRENT_INGEST: %v", err))
	}
	check(c.DBBackend == BackendBadger || c.DBBackend == BackendBolt,
		"DB_BACKEND must be %q or %q, got %q", BackendBadger, BackendBolt, c.DBBackend)
	if err := validateDBPath(c.DBPath); err != nil {
		errs = append(errs, err)
	}
	check(c.HTTPAddr != "", "HTTP_ADDR is required")
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	check(c.Workers > 0, "WORKERS must be positive, got %d", c.Workers)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// validateDBPath rejects an empty path and the working directory itself.
func validateDBPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("DB_PATH is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("DB_PATH: %v", err)
	}
	if wd, err := os.Getwd(); err == nil && filepath.Clean(wd) == abs {
		return fmt.Errorf("DB_PATH %q must not be the working directory", path)
	}
	return nil
}

// AIConfig returns the provider settings.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithHost(c.EmbeddingHost),
		ai.WithAPIKey(c.EmbeddingAPIKey),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithGenerativeModel(c.GenerativeModel),
		ai.WithBatchSize(c.EmbeddingBatchSize),
		ai.WithRateLimit(c.EmbeddingRPS, c.EmbeddingBurst),
		ai.WithTimeout(c.EmbeddingTimeout),
		ai.WithRetryPolicy(c.RetryPolicy()),
	)
}

// RetryPolicy returns the policy for provider and index retries.
func (c *Config) RetryPolicy() ai.RetryPolicy {
	p := ai.DefaultRetryPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.BaseDelay = c.RetryBaseDelay
	return p
}
