// Package resolve creates a chat Provider from provider-agnostic
// configuration, so callers can switch backends with a config value instead
// of an import.
package resolve

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/provider/gemini"
	"github.com/nevindra/maestro/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compat hosts; auto-filled for known providers

	// Common cross-provider options (zero = use provider default).
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Provider creates a maestro.Provider from a provider-agnostic Config.
func Provider(cfg Config) (maestro.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return geminiProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func geminiProvider(cfg Config) maestro.Provider {
	var opts []gemini.Option
	if cfg.Temperature != 0 {
		opts = append(opts, gemini.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens != 0 {
		opts = append(opts, gemini.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Timeout != 0 {
		opts = append(opts, gemini.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) maestro.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	provOpts := []openaicompat.ProviderOption{
		openaicompat.WithName(cfg.Provider),
	}
	if cfg.Timeout != 0 {
		provOpts = append(provOpts, openaicompat.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != 0 {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens != 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
