package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the query engine.
// Configuration comes from a YAML file (config.yaml) or environment
// variables; environment variables always override YAML values. Secrets
// (database password, API keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Target database under analysis (PostgreSQL).
	Database DatabaseConfig `yaml:"database"`

	// Target table the engine answers questions about.
	Target TargetConfig `yaml:"target"`

	// LLM chat and embeddings endpoints.
	LLM LLMConfig `yaml:"llm"`

	// Engine behavior knobs.
	Engine EngineConfig `yaml:"engine"`
}

// DatabaseConfig holds the target PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	// Pool sizing shared across sessions.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"PGPOOL_MIN_CONNS" env-default:"5"`
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"PGPOOL_MAX_CONNS" env-default:"20"`
}

// ConnString builds a pgx-compatible connection string.
func (d *DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// TargetConfig identifies the single table the engine is pointed at.
type TargetConfig struct {
	Schema string `yaml:"schema" env:"TARGET_SCHEMA" env-default:"public"`
	Table  string `yaml:"table" env:"TARGET_TABLE" env-default:""`
}

// LLMConfig holds chat and embeddings provider settings.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`

	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"chat_model" env:"LLM_CHAT_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// Embeddings always go through an OpenAI-compatible endpoint; when
	// empty the chat endpoint and key are reused.
	EmbeddingEndpoint string `yaml:"embedding_endpoint" env:"LLM_EMBEDDING_ENDPOINT" env-default:""`
	EmbeddingModel    string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey   string `yaml:"-" env:"LLM_EMBEDDING_API_KEY"` // Secret - not in YAML

	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`
}

// Timeout returns the per-call LLM timeout.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// EngineConfig holds the engine behavior options.
type EngineConfig struct {
	UseMemory        bool   `yaml:"use_memory" env:"ENGINE_USE_MEMORY" env-default:"true"`
	MemoryPersistDir string `yaml:"memory_persist_dir" env:"ENGINE_MEMORY_PERSIST_DIR" env-default:""`

	UseCache  bool   `yaml:"use_cache" env:"ENGINE_USE_CACHE" env-default:"true"`
	CacheFile string `yaml:"cache_file" env:"ENGINE_CACHE_FILE" env-default:""`

	MaxValidationAttempts int  `yaml:"max_validation_attempts" env:"ENGINE_MAX_VALIDATION_ATTEMPTS" env-default:"2"`
	AutoFix               bool `yaml:"auto_fix" env:"ENGINE_AUTO_FIX" env-default:"true"`

	PageSizeDefault int `yaml:"page_size_default" env:"ENGINE_PAGE_SIZE_DEFAULT" env-default:"10"`
	PageSizeMax     int `yaml:"page_size_max" env:"ENGINE_PAGE_SIZE_MAX" env-default:"200"`

	DBTimeoutSeconds   int `yaml:"db_timeout_seconds" env:"ENGINE_DB_TIMEOUT_SECONDS" env-default:"60"`
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds" env:"ENGINE_TURN_TIMEOUT_SECONDS" env-default:"300"`

	AnalyticalSubquestionsMin int `yaml:"analytical_subquestions_min" env:"ENGINE_ANALYTICAL_SUBQUESTIONS_MIN" env-default:"4"`
	AnalyticalSubquestionsMax int `yaml:"analytical_subquestions_max" env:"ENGINE_ANALYTICAL_SUBQUESTIONS_MAX" env-default:"6"`

	// SessionIdleTTLMinutes is how long an idle session keeps its in-memory
	// state before eviction. Memory records persist past eviction.
	SessionIdleTTLMinutes int `yaml:"session_idle_ttl_minutes" env:"ENGINE_SESSION_IDLE_TTL_MINUTES" env-default:"60"`

	// EditModeEnabled is the default for sessions that do not set it
	// explicitly (role-based override happens per session).
	EditModeEnabled bool `yaml:"edit_mode_enabled" env:"ENGINE_EDIT_MODE_ENABLED" env-default:"false"`
}

// DBTimeout returns the per-statement database timeout.
func (e *EngineConfig) DBTimeout() time.Duration {
	return time.Duration(e.DBTimeoutSeconds) * time.Second
}

// TurnTimeout returns the whole-turn deadline.
func (e *EngineConfig) TurnTimeout() time.Duration {
	return time.Duration(e.TurnTimeoutSeconds) * time.Second
}

// SessionIdleTTL returns the session eviction TTL.
func (e *EngineConfig) SessionIdleTTL() time.Duration {
	return time.Duration(e.SessionIdleTTLMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. If config.yaml does not exist, environment variables alone are
// used. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if c.Target.Table == "" {
		return fmt.Errorf("target.table is required (TARGET_TABLE)")
	}
	if c.Engine.PageSizeDefault < 1 || c.Engine.PageSizeDefault > c.Engine.PageSizeMax {
		return fmt.Errorf("page_size_default must be in [1, %d]", c.Engine.PageSizeMax)
	}
	if c.Engine.AnalyticalSubquestionsMin < 2 {
		return fmt.Errorf("analytical_subquestions_min must be at least 2")
	}
	if c.Engine.AnalyticalSubquestionsMax < c.Engine.AnalyticalSubquestionsMin {
		return fmt.Errorf("analytical_subquestions_max must be >= analytical_subquestions_min")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		return fmt.Errorf("pool_min_conns must be <= pool_max_conns")
	}
	return nil
}

// EmbeddingBase returns the endpoint and key to use for embeddings,
// falling back to the chat endpoint when unset.
func (l *LLMConfig) EmbeddingBase() (endpoint, apiKey string) {
	endpoint = l.EmbeddingEndpoint
	apiKey = l.EmbeddingAPIKey
	if endpoint == "" {
		endpoint = l.Endpoint
	}
	if apiKey == "" {
		apiKey = l.APIKey
	}
	return endpoint, apiKey
}
