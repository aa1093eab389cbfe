// Package config loads the blueprint application configuration from YAML,
// .env files and BLUEPRINT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/chunker"
	"github.com/poiesic/blueprint/extraction"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/ingestion"
	"github.com/poiesic/blueprint/qa"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for values that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Vector store backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// AIConfig selects the model provider.
type AIConfig struct {
	EmbeddingHost   string `yaml:"embedding_host"`
	GenerationHost  string `yaml:"generation_host"`
	EmbeddingModel  string `yaml:"embedding_model"`
	GenerationModel string `yaml:"generation_model"`
	APIKey          string `yaml:"api_key"`
	Dimensions      int    `yaml:"dimensions"`
}

// GatewayConfig bounds provider calls.
type GatewayConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ExtractAttempts int           `yaml:"extract_attempts"`
}

// StorageConfig locates the databases.
type StorageConfig struct {
	// Path is the badger directory holding jobs, documents and entities,
	// and the vectors when the badger backend is used.
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	// VectorBackend is "badger" or "postgres".
	VectorBackend string `yaml:"vector_backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	IVFLists      int    `yaml:"ivf_lists"`
	IVFProbes     int    `yaml:"ivf_probes"`
}

// PipelineConfig tunes job processing.
type PipelineConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	CancelGrace  time.Duration `yaml:"cancel_grace"`
	AutoRetry    bool          `yaml:"auto_retry"`
	WindowSize   int           `yaml:"window_size"`
	MinPageText  int           `yaml:"min_page_text"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxActive    int           `yaml:"max_active"`
}

// ExtractionConfig tunes entity review.
type ExtractionConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// QAConfig tunes question answering.
type QAConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity"`
	ContextLimit  int     `yaml:"context_limit"`
}

// Config is the root application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	AI         AIConfig         `yaml:"ai"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   chunker.Config   `yaml:"chunking"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Extraction ExtractionConfig `yaml:"extraction"`
	QA         QAConfig         `yaml:"qa"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		LogLevel: "info",
		AI: AIConfig{
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			GenerationHost:  aiDefaults.GenerationHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			GenerationModel: aiDefaults.GenerationModel,
			APIKey:          aiDefaults.APIKey,
			Dimensions:      aiDefaults.Dimensions,
		},
		Gateway: GatewayConfig{
			Concurrency:     gateway.DefaultConcurrency,
			Timeout:         gateway.DefaultTimeout,
			RetryAttempts:   gateway.DefaultRetryAttempts,
			RetryDelay:      gateway.DefaultRetryDelay,
			ExtractAttempts: gateway.DefaultExtractAttempts,
		},
		Storage: StorageConfig{
			Path:          "blueprint-data",
			VectorBackend: BackendBadger,
			IVFLists:      100,
			IVFProbes:     10,
		},
		Chunking: chunker.DefaultConfig(),
		Pipeline: PipelineConfig{
			MaxRetries:   ingestion.DefaultMaxRetries,
			RetryDelay:   ingestion.DefaultRetryDelay,
			CancelGrace:  ingestion.DefaultCancelGrace,
			AutoRetry:    true,
			WindowSize:   extraction.DefaultWindowSize,
			MinPageText:  extraction.DefaultMinPageText,
			PollInterval: ingestion.DefaultPollInterval,
			MaxActive:    ingestion.DefaultMaxActive,
		},
		Extraction: ExtractionConfig{ConfidenceFloor: extraction.DefaultConfidenceFloor},
		QA: QAConfig{
			TopK:          qa.DefaultTopK,
			MinSimilarity: qa.DefaultMinSimilarity,
			ContextLimit:  qa.DefaultContextLimit,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file leaves the defaults in place.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
			}
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

// LoadEnvFiles loads .env style files into the process environment.
// Variables already set are kept. Missing files are ignored; with no
// arguments ./.env is tried.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("BLUEPRINT_" + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		v, ok := lookup("BLUEPRINT_" + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: BLUEPRINT_%s: %w", ErrInvalidConfig, name, err))
			return
		}
		*dst = n
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup("BLUEPRINT_" + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: BLUEPRINT_%s: %w", ErrInvalidConfig, name, err))
			return
		}
		*dst = d
	}

	str("LOG_LEVEL", &c.LogLevel)

	var host string
	str("HOST", &host)
	if host != "" {
		c.AI.EmbeddingHost = host
		c.AI.GenerationHost = host
	}
	str("EMBEDDING_HOST", &c.AI.EmbeddingHost)
	str("GENERATION_HOST", &c.AI.GenerationHost)
	str("EMBEDDING_MODEL", &c.AI.EmbeddingModel)
	str("GENERATION_MODEL", &c.AI.GenerationModel)
	str("API_KEY", &c.AI.APIKey)
	num("DIMENSIONS", &c.AI.Dimensions)

	num("CONCURRENCY", &c.Gateway.Concurrency)
	dur("TIMEOUT", &c.Gateway.Timeout)

	str("DATA_PATH", &c.Storage.Path)
	str("VECTOR_BACKEND", &c.Storage.VectorBackend)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)

	num("POOL_SIZE", &c.Pipeline.PoolSize)
	num("MAX_RETRIES", &c.Pipeline.MaxRetries)
	dur("RETRY_DELAY", &c.Pipeline.RetryDelay)
	num("MAX_ACTIVE", &c.Pipeline.MaxActive)

	return errors.Join(errs...)
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Storage.VectorBackend {
	case BackendBadger:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres vector backend needs postgres_dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector backend %q", ErrInvalidConfig, c.Storage.VectorBackend)
	}
	if c.Storage.Path == "" && !c.Storage.InMemory {
		return fmt.Errorf("%w: storage path required", ErrInvalidConfig)
	}
	if c.Storage.IVFLists <= 0 || c.Storage.IVFProbes <= 0 {
		return fmt.Errorf("%w: ivf lists and probes must be positive", ErrInvalidConfig)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Gateway.Concurrency <= 0 || c.Gateway.Timeout <= 0 {
		return fmt.Errorf("%w: gateway concurrency and timeout must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative", ErrInvalidConfig)
	}
	if f := c.Extraction.ConfidenceFloor; f < 0 || f > 1 {
		return fmt.Errorf("%w: confidence_floor must be between 0 and 1", ErrInvalidConfig)
	}
	if c.QA.TopK <= 0 {
		return fmt.Errorf("%w: qa top_k must be positive", ErrInvalidConfig)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}

// AIConfig returns the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithDimensions(c.AI.Dimensions),
	)
}
