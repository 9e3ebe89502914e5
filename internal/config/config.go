// Package config loads and validates orchestrator configuration.
// Precedence: defaults, then the TOML file, then MAESTRO_* environment
// variables, then runtime fallbacks.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/maestro"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Environment  string                 `toml:"environment"`
	Debug        bool                   `toml:"debug"`
	Server       ServerConfig           `toml:"server"`
	LLM          LLMConfig              `toml:"llm"`
	A2A          A2AConfig              `toml:"a2a"`
	Database     DatabaseConfig         `toml:"database"`
	Conversation ConversationConfig     `toml:"conversation"`
	Agents       map[string]AgentConfig `toml:"agents"`
}

// ServerConfig is the orchestrator's own A2A listen address.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LLMConfig struct {
	Provider      string   `toml:"provider"`
	Model         string   `toml:"model"`
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Temperature   float64  `toml:"temperature"`
	MaxTokens     int      `toml:"max_tokens"`
	Timeout       Duration `toml:"timeout"`
	RetryAttempts int      `toml:"retry_attempts"`
	RPM           int      `toml:"rpm"`
}

type A2AConfig struct {
	Timeout                   Duration `toml:"timeout"`
	SockReadTimeout           Duration `toml:"sock_read_timeout"`
	HealthCheckTimeout        Duration `toml:"health_check_timeout"`
	RetryAttempts             int      `toml:"retry_attempts"`
	CircuitBreakerThreshold   int      `toml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout     Duration `toml:"circuit_breaker_timeout"`
	ConnectionPoolSize        int      `toml:"connection_pool_size"`
	ConnectionPoolSizePerHost int      `toml:"connection_pool_size_per_host"`
	KeepaliveTimeout          Duration `toml:"keepalive_timeout"`
	DNSCacheTTL               Duration `toml:"dns_cache_ttl"`
}

type DatabaseConfig struct {
	Path        string   `toml:"path"`
	Timeout     Duration `toml:"timeout"`
	PoolSize    int      `toml:"pool_size"`
	PostgresDSN string   `toml:"postgres_dsn"`
}

type ConversationConfig struct {
	SummaryTriggerMessages      int      `toml:"summary_trigger_messages"`
	MaxMessagesToPreserve       int      `toml:"max_messages_to_preserve"`
	MaxTokensToPreserve         int      `toml:"max_tokens_to_preserve"`
	MaxEventHistory             int      `toml:"max_event_history"`
	MemoryUpdateTriggerMessages int      `toml:"memory_update_trigger_messages"`
	TriggerKeywords             []string `toml:"trigger_keywords"`
}

type AgentConfig struct {
	Host                string   `toml:"host"`
	Port                int      `toml:"port"`
	Capabilities        []string `toml:"capabilities"`
	HealthCheckInterval Duration `toml:"health_check_interval"`
}

// Endpoint returns the agent's base URL.
func (a AgentConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o",
			Temperature:   0.7,
			MaxTokens:     4096,
			Timeout:       Duration(60 * time.Second),
			RetryAttempts: 3,
		},
		A2A: A2AConfig{
			Timeout:                   Duration(30 * time.Second),
			SockReadTimeout:           Duration(30 * time.Second),
			HealthCheckTimeout:        Duration(10 * time.Second),
			RetryAttempts:             3,
			CircuitBreakerThreshold:   5,
			CircuitBreakerTimeout:     Duration(60 * time.Second),
			ConnectionPoolSize:        50,
			ConnectionPoolSizePerHost: 20,
			KeepaliveTimeout:          Duration(30 * time.Second),
			DNSCacheTTL:               Duration(300 * time.Second),
		},
		Database: DatabaseConfig{
			Path:     "maestro.db",
			Timeout:  Duration(5 * time.Second),
			PoolSize: 20,
		},
		Conversation: ConversationConfig{
			SummaryTriggerMessages:      20,
			MaxMessagesToPreserve:       10,
			MaxTokensToPreserve:         3000,
			MaxEventHistory:             50,
			MemoryUpdateTriggerMessages: 5,
		},
	}
}

// Load reads config with precedence defaults <- TOML file <- env <- runtime
// fallbacks, then validates. A missing file is fine; a malformed one is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "maestro.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env overrides
	if v := os.Getenv("MAESTRO_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("MAESTRO_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("MAESTRO_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("MAESTRO_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MAESTRO_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("MAESTRO_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MAESTRO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MAESTRO_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}

	// Runtime fallbacks
	if cfg.A2A.SockReadTimeout == 0 {
		cfg.A2A.SockReadTimeout = cfg.A2A.Timeout
	}
	if cfg.A2A.HealthCheckTimeout == 0 {
		cfg.A2A.HealthCheckTimeout = Duration(10 * time.Second)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration. Any error here is fatal at
// startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &maestro.ErrValidation{Field: "server.port", Message: "must be a valid port"}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1.0 {
		return &maestro.ErrValidation{Field: "llm.temperature", Message: "must be between 0 and 1.0"}
	}
	if c.Environment == "production" && c.LLM.APIKey == "" {
		return &maestro.ErrValidation{Field: "llm.api_key", Message: "required in production"}
	}
	if c.A2A.Timeout <= 0 {
		return &maestro.ErrValidation{Field: "a2a.timeout", Message: "must be positive"}
	}
	if c.A2A.SockReadTimeout < c.A2A.Timeout {
		return &maestro.ErrValidation{Field: "a2a.sock_read_timeout", Message: "must be >= a2a.timeout"}
	}
	if c.A2A.ConnectionPoolSize <= 0 || c.A2A.ConnectionPoolSizePerHost <= 0 {
		return &maestro.ErrValidation{Field: "a2a.connection_pool_size", Message: "must be positive"}
	}
	if c.Database.PoolSize <= 0 {
		return &maestro.ErrValidation{Field: "database.pool_size", Message: "must be positive"}
	}
	if c.Database.Timeout <= 0 {
		return &maestro.ErrValidation{Field: "database.timeout", Message: "must be positive"}
	}
	if c.Conversation.MaxMessagesToPreserve <= 0 || c.Conversation.MaxTokensToPreserve <= 0 {
		return &maestro.ErrValidation{Field: "conversation", Message: "preservation window must be positive"}
	}
	for name, a := range c.Agents {
		if a.Host == "" || a.Port <= 0 {
			return &maestro.ErrValidation{Field: "agents." + name, Message: "host and port required"}
		}
	}
	return nil
}

// LogValue emits a redacted configuration summary for startup logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("environment", c.Environment),
		slog.Bool("debug", c.Debug),
		slog.String("llm_provider", c.LLM.Provider),
		slog.String("llm_model", c.LLM.Model),
		slog.String("llm_api_key", Redact("api_key", c.LLM.APIKey)),
		slog.Duration("a2a_timeout", c.A2A.Timeout.Std()),
		slog.Duration("a2a_sock_read_timeout", c.A2A.SockReadTimeout.Std()),
		slog.String("database_path", c.Database.Path),
		slog.String("postgres_dsn", Redact("dsn", c.Database.PostgresDSN)),
		slog.Int("agents", len(c.Agents)),
	)
}
