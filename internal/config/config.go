package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

const EnvPrefix = "DOCQA_"

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

const (
	defaultChunkSize        = 500
	defaultTopK             = 3
	defaultMaxHistory       = 5
	defaultEmbedConcurrency = 4
	defaultCacheTTL         = 10 * time.Minute
	defaultSessionTTL       = 30 * time.Minute
	defaultLLMTimeout       = 60 * time.Second
	defaultEmbedTimeout     = 30 * time.Second
	defaultAddr             = ":8080"
	defaultRequestTimeout   = 120 * time.Second
	defaultMaxUploadSize    = 32 << 20
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOllamaBaseURL    = "http://localhost:11434"
	defaultRetryAttempts    = 3
	defaultRetryDelay       = 200 * time.Millisecond
	defaultRetryMaxDelay    = 2 * time.Second
)

type Config struct {
	LLM      LLMConfig    `yaml:"llm" envPrefix:"LLM_"`
	EmbedLLM LLMConfig    `yaml:"embed_llm" envPrefix:"EMBED_"`
	RAG      RAGConfig    `yaml:"rag" envPrefix:"RAG_"`
	Memory   MemoryConfig `yaml:"memory" envPrefix:"MEMORY_"`
	Server   ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Log      LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

// LLMConfig configures a provider reachable through langchaingo.
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	Key      string        `yaml:"key" env:"KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retry    RetryConfig   `yaml:"retry" envPrefix:"RETRY_"`
}

type RetryConfig struct {
	Attempts uint          `yaml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DELAY"`
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

type RAGConfig struct {
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	TopK      int `yaml:"top_k" env:"TOP_K"`
	// MinSimilarity drops search results scoring below it. Unset means no threshold.
	MinSimilarity    *float32      `yaml:"min_similarity" env:"MIN_SIMILARITY"`
	Dimension        int           `yaml:"dimension" env:"DIMENSION"`
	EmbedConcurrency int           `yaml:"embed_concurrency" env:"EMBED_CONCURRENCY"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

type MemoryConfig struct {
	MaxHistory    int           `yaml:"max_history" env:"MAX_HISTORY"`
	SessionScoped bool          `yaml:"session_scoped" env:"SESSION_SCOPED"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxUploadSize  int64         `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LEVEL"`
	Console bool   `yaml:"console" env:"CONSOLE"`
}

// LoadConfig reads the YAML file at path, applies DOCQA_* environment overrides,
// fills defaults and validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    "gpt-4o-mini",
			Timeout:  defaultLLMTimeout,
		},
		EmbedLLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    "text-embedding-3-small",
			Timeout:  defaultEmbedTimeout,
		},
		RAG: RAGConfig{
			ChunkSize:        defaultChunkSize,
			TopK:             defaultTopK,
			EmbedConcurrency: defaultEmbedConcurrency,
			CacheTTL:         defaultCacheTTL,
		},
		Memory: MemoryConfig{
			MaxHistory: defaultMaxHistory,
			SessionTTL: defaultSessionTTL,
		},
		Server: ServerConfig{
			Addr:           defaultAddr,
			RequestTimeout: defaultRequestTimeout,
			MaxUploadSize:  defaultMaxUploadSize,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

func (c *Config) applyDefaults() {
	c.LLM.applyDefaults(defaultLLMTimeout)
	c.EmbedLLM.applyDefaults(defaultEmbedTimeout)

	if c.RAG.EmbedConcurrency <= 0 {
		c.RAG.EmbedConcurrency = defaultEmbedConcurrency
	}
	if c.Memory.SessionTTL <= 0 {
		c.Memory.SessionTTL = defaultSessionTTL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = defaultRequestTimeout
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = defaultMaxUploadSize
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (l *LLMConfig) applyDefaults(timeout time.Duration) {
	if l.Provider == "" {
		l.Provider = ProviderOpenAI
	}
	if l.BaseURL == "" {
		switch l.Provider {
		case ProviderOpenAI:
			l.BaseURL = defaultOpenAIBaseURL
		case ProviderOllama:
			l.BaseURL = defaultOllamaBaseURL
		}
	}
	if l.Key == "" && l.Provider == ProviderOpenAI {
		l.Key = os.Getenv("OPENAI_API_KEY")
	}
	if l.Timeout <= 0 {
		l.Timeout = timeout
	}
	if l.Retry.Attempts == 0 {
		l.Retry.Attempts = defaultRetryAttempts
	}
	if l.Retry.Delay <= 0 {
		l.Retry.Delay = defaultRetryDelay
	}
	if l.Retry.MaxDelay <= 0 {
		l.Retry.MaxDelay = defaultRetryMaxDelay
	}
}

// Validate reports settings that make the service unusable. Errors wrap
// models.ErrConfiguration.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: rag.chunk_size must be positive, got %d", models.ErrConfiguration, c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: rag.top_k must be positive, got %d", models.ErrConfiguration, c.RAG.TopK)
	}
	if c.RAG.Dimension < 0 {
		return fmt.Errorf("%w: rag.dimension must not be negative", models.ErrConfiguration)
	}
	if c.Memory.MaxHistory <= 0 {
		return fmt.Errorf("%w: memory.max_history must be positive, got %d", models.ErrConfiguration, c.Memory.MaxHistory)
	}
	if err := c.LLM.validate("llm"); err != nil {
		return err
	}
	return c.EmbedLLM.validate("embed_llm")
}

func (l *LLMConfig) validate(section string) error {
	switch l.Provider {
	case ProviderOpenAI:
		if l.Key == "" {
			return fmt.Errorf("%w: %s.key is required for the openai provider", models.ErrConfiguration, section)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: %s.provider %q is not supported", models.ErrConfiguration, section, l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("%w: %s.model is required", models.ErrConfiguration, section)
	}
	return nil
}

func (rc *RetryConfig) ToRetryOptions() []retry.Option {
	return []retry.Option{
		retry.Attempts(rc.Attempts),
		retry.Delay(rc.Delay),
		retry.MaxDelay(rc.MaxDelay),
		retry.LastErrorOnly(true),
	}
}
