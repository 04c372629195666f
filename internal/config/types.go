package config

// Config represents the process configuration (memchat.yaml)
type Config struct {
	Name      string          `yaml:"name" json:"name"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Provider  ProviderConfig  `yaml:"provider" json:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`
	State     StateConfig     `yaml:"state" json:"state"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Hooks     []HookConfig    `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// HookConfig defines a single lifecycle event hook.
type HookConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`     // log, webhook
	Events   []string `yaml:"events" json:"events"` // event types to match, empty matches all
	Blocking bool     `yaml:"blocking" json:"blocking"`
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`     // for webhook hooks
	Level    string   `yaml:"level,omitempty" json:"level,omitempty"` // for log hooks (debug, info, warn)
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
	SessionIdle    string   `yaml:"session_idle" json:"session_idle"` // idle time before a thread lock entry is reaped
}

// ProviderConfig configures the LLM provider
type ProviderConfig struct {
	Name       string `yaml:"name" json:"name"`   // anthropic
	Model      string `yaml:"model" json:"model"` // claude-sonnet-4-20250514, etc.
	APIKey     string `yaml:"api_key,omitempty" json:"-"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens  int    `yaml:"max_tokens" json:"max_tokens"`
	Timeout    string `yaml:"timeout" json:"timeout"` // e.g., "2m"
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// EmbeddingConfig configures the embedding collaborator
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" json:"provider"` // hash, openai, ollama
	Model      string `yaml:"model" json:"model"`
	APIKey     string `yaml:"api_key,omitempty" json:"-"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"` // hash embedder only
	CacheSize  int    `yaml:"cache_size" json:"cache_size"` // cached vectors, 0 disables the cache
}

// MemoryConfig configures the long-term memory store
type MemoryConfig struct {
	Driver      string `yaml:"driver" json:"driver"` // chromem, sqlite
	Path        string `yaml:"path" json:"path"`     // empty keeps chromem in memory
	PrimeLimit  int    `yaml:"prime_limit" json:"prime_limit"`
	PrimeWindow int    `yaml:"prime_window" json:"prime_window"` // trailing messages used as the priming query
}

// StateConfig configures checkpoint storage
type StateConfig struct {
	Driver string `yaml:"driver" json:"driver"` // memory, sqlite
	Path   string `yaml:"path" json:"path"`     // file path for sqlite
}

// AgentConfig holds the process-level defaults for per-turn configuration
type AgentConfig struct {
	DefaultUserID string `yaml:"default_user_id" json:"default_user_id"`
	SystemPrompt  string `yaml:"system_prompt" json:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations" json:"max_iterations"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// TelemetryConfig configures metrics export
type TelemetryConfig struct {
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"` // JSONL snapshot per turn
}
