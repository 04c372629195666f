package config

import (
	"fmt"
	"strings"
	"time"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if _, err := time.ParseDuration(c.Server.SessionIdle); err != nil {
		errors = append(errors, fmt.Sprintf("invalid server session_idle: %s", c.Server.SessionIdle))
	}

	if c.Provider.Name != DefaultProvider {
		errors = append(errors, fmt.Sprintf("unsupported provider: %s", c.Provider.Name))
	}
	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("invalid provider timeout: %s", c.Provider.Timeout))
	}
	if c.Provider.MaxTokens < 1 {
		errors = append(errors, "provider max_tokens must be positive")
	}

	switch c.Embedding.Provider {
	case "hash":
		if c.Embedding.Dimensions < 8 {
			errors = append(errors, "embedding dimensions must be at least 8")
		}
	case "openai", "ollama":
	default:
		errors = append(errors, fmt.Sprintf("unsupported embedding provider: %s", c.Embedding.Provider))
	}
	if c.Embedding.CacheSize < 0 {
		errors = append(errors, "embedding cache_size must not be negative")
	}

	validDrivers := map[string]bool{"chromem": true, "sqlite": true}
	if !validDrivers[c.Memory.Driver] {
		errors = append(errors, fmt.Sprintf("invalid memory driver: %s", c.Memory.Driver))
	}
	if c.Memory.PrimeLimit < 1 {
		errors = append(errors, "memory prime_limit must be at least 1")
	}
	if c.Memory.PrimeWindow < 1 {
		errors = append(errors, "memory prime_window must be at least 1")
	}

	if c.State.Driver != "memory" && c.State.Driver != "sqlite" {
		errors = append(errors, fmt.Sprintf("invalid state driver: %s", c.State.Driver))
	}

	if c.Agent.MaxIterations < 1 {
		errors = append(errors, "agent max_iterations must be at least 1")
	}

	for i, h := range c.Hooks {
		switch h.Type {
		case "log":
		case "webhook":
			if h.URL == "" {
				errors = append(errors, fmt.Sprintf("hook %d (%s): webhook requires url", i, h.Name))
			}
		default:
			errors = append(errors, fmt.Sprintf("hook %d (%s): unknown type %q", i, h.Name, h.Type))
		}
	}

	if len(errors) > 0 {
		return memErrors.New(memErrors.CodeConfigInvalid, "config validation failed: "+strings.Join(errors, "; ")).
			WithSuggestion("Fix the listed keys in memchat.yaml or the matching MEMCHAT_* environment variables")
	}
	return nil
}
