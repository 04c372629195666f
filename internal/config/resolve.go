package config

import (
	"strings"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Hardcoded fallbacks used when neither the request nor the process
// configuration supplies a value.
const (
	DefaultUserID   = "default_user"
	DefaultProvider = "anthropic"
	DefaultModel    = "claude-sonnet-4-20250514"
)

// DefaultSystemPrompt has the assistant draw out the user's preferences.
const DefaultSystemPrompt = "You are a helpful and friendly assistant. Get to know the user! " +
	"Ask them about themselves and their preferences. Ask questions! Be spontaneous!\n\n" +
	"You can also help the user with their questions."

// Overrides are the per-request configuration values. Empty means unset.
type Overrides struct {
	UserID       string
	Model        string // "provider:model" or a bare model name
	SystemPrompt string
}

// Turn is the configuration fixed for the duration of one turn.
type Turn struct {
	UserID       string
	Provider     string
	Model        string
	SystemPrompt string
}

// ModelRef renders the provider:model reference.
func (t Turn) ModelRef() string {
	return t.Provider + ":" + t.Model
}

// Resolve applies request values, then process configuration, then the
// hardcoded fallbacks. A nil receiver resolves against the fallbacks only.
func (c *Config) Resolve(o Overrides) (Turn, error) {
	var process Turn
	if c != nil {
		process = Turn{
			UserID:       c.Agent.DefaultUserID,
			Provider:     c.Provider.Name,
			Model:        c.Provider.Model,
			SystemPrompt: c.Agent.SystemPrompt,
		}
	}

	turn := Turn{
		UserID:       firstNonEmpty(o.UserID, process.UserID, DefaultUserID),
		Provider:     firstNonEmpty(process.Provider, DefaultProvider),
		Model:        firstNonEmpty(process.Model, DefaultModel),
		SystemPrompt: firstNonEmpty(o.SystemPrompt, process.SystemPrompt, DefaultSystemPrompt),
	}

	if strings.TrimSpace(o.Model) != "" {
		provider, model, err := ParseModelRef(o.Model)
		if err != nil {
			return Turn{}, err
		}
		if provider != "" {
			turn.Provider = provider
		}
		turn.Model = model
	}

	if turn.Provider != DefaultProvider {
		return Turn{}, memErrors.Newf(memErrors.CodeUsage, "unsupported model provider %q", turn.Provider).
			WithSuggestion("Use a model reference of the form anthropic:<model>")
	}
	return turn, nil
}

// ParseModelRef splits "provider:model". A bare name returns an empty provider.
func ParseModelRef(ref string) (provider, model string, err error) {
	ref = strings.TrimSpace(ref)
	provider, model, found := strings.Cut(ref, ":")
	if !found {
		provider, model = "", ref
	}
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if model == "" || (found && provider == "") {
		return "", "", memErrors.Newf(memErrors.CodeUsage, "invalid model reference %q", ref).
			WithSuggestion("Use the form provider:model, e.g. anthropic:" + DefaultModel)
	}
	return provider, model, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
