package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "memchat.yaml"

// EnvPrefix prefixes environment overrides, e.g. MEMCHAT_PROVIDER_MODEL.
const EnvPrefix = "MEMCHAT"

// Load loads memchat.yaml from dir, falling back to defaults when absent.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile loads the config at path. A .env next to the file is loaded
// first without overriding variables already in the environment.
func LoadFile(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		content = []byte(interpolateEnv(string(content)))
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		cfg = defaultConfig()
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(cfg, newEnvViper())
	applyDefaults(cfg)

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides lets MEMCHAT_* variables win over file values.
func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	strs := map[string]*string{
		"server.host":            &cfg.Server.Host,
		"server.session_idle":    &cfg.Server.SessionIdle,
		"provider.name":          &cfg.Provider.Name,
		"provider.model":         &cfg.Provider.Model,
		"provider.api_key":       &cfg.Provider.APIKey,
		"provider.base_url":      &cfg.Provider.BaseURL,
		"provider.timeout":       &cfg.Provider.Timeout,
		"embedding.provider":     &cfg.Embedding.Provider,
		"embedding.model":        &cfg.Embedding.Model,
		"embedding.api_key":      &cfg.Embedding.APIKey,
		"embedding.base_url":     &cfg.Embedding.BaseURL,
		"memory.driver":          &cfg.Memory.Driver,
		"memory.path":            &cfg.Memory.Path,
		"state.driver":           &cfg.State.Driver,
		"state.path":             &cfg.State.Path,
		"agent.default_user_id":  &cfg.Agent.DefaultUserID,
		"agent.system_prompt":    &cfg.Agent.SystemPrompt,
		"logging.level":          &cfg.Logging.Level,
		"logging.format":         &cfg.Logging.Format,
		"logging.file":           &cfg.Logging.File,
		"telemetry.metrics_file": &cfg.Telemetry.MetricsFile,
	}
	for key, dst := range strs {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"server.port":          &cfg.Server.Port,
		"provider.max_tokens":  &cfg.Provider.MaxTokens,
		"provider.max_retries": &cfg.Provider.MaxRetries,
		"embedding.dimensions": &cfg.Embedding.Dimensions,
		"embedding.cache_size": &cfg.Embedding.CacheSize,
		"memory.prime_limit":   &cfg.Memory.PrimeLimit,
		"memory.prime_window":  &cfg.Memory.PrimeWindow,
		"agent.max_iterations": &cfg.Agent.MaxIterations,
	}
	for key, dst := range ints {
		if v.GetString(key) != "" {
			*dst = v.GetInt(key)
		}
	}
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values
func interpolateEnv(content string) string {
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // keep original if not found
	})

	varPattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := varPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return content
}

func defaultConfig() *Config {
	cfg := &Config{Name: "memchat"}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "memchat"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SessionIdle == "" {
		cfg.Server.SessionIdle = "30m"
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 4096
	}
	if cfg.Provider.Timeout == "" {
		cfg.Provider.Timeout = "2m"
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 3
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Memory.Driver == "" {
		cfg.Memory.Driver = "chromem"
	}
	if cfg.Memory.PrimeLimit == 0 {
		cfg.Memory.PrimeLimit = 10
	}
	if cfg.Memory.PrimeWindow == 0 {
		cfg.Memory.PrimeWindow = 3
	}
	if cfg.State.Driver == "" {
		cfg.State.Driver = "memory"
	}
	if cfg.State.Driver == "sqlite" && cfg.State.Path == "" {
		cfg.State.Path = ".memchat/state.db"
	}
	if cfg.Memory.Driver == "sqlite" && cfg.Memory.Path == "" {
		cfg.Memory.Path = ".memchat/memory.db"
	}
	if cfg.Agent.DefaultUserID == "" {
		cfg.Agent.DefaultUserID = DefaultUserID
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	// Load API keys from the conventional variables if not set
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}
