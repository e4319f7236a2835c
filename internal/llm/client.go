// Package llm is the boundary to the external language model service.
//
// Callers see a single Complete call. Every call is fallible: network errors,
// rate limits, timeouts and malformed responses all surface as
// LLM_UNAVAILABLE, and the enrichment steps fall back to deterministic
// defaults instead of failing the run.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"squint/internal/config"
	ckerrors "squint/internal/errors"
)

// Options tunes a single completion
type Options struct {
	Temperature float64
	MaxTokens   int
}

// DefaultOptions returns the options used by the enrichment steps
func DefaultOptions() Options {
	return Options{Temperature: 0, MaxTokens: 2048}
}

// Client completes a prompt
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// LangChainClient talks to an OpenAI-compatible endpoint through langchaingo
type LangChainClient struct {
	model  llms.Model
	name   string
	logger *slog.Logger
}

// NewLangChainClient builds a client from the llm config section. The API key
// is read from the environment variable named by cfg.APIKeyEnv.
func NewLangChainClient(cfg config.LLMConfig, logger *slog.Logger) (*LangChainClient, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	token := strings.TrimSpace(os.Getenv(keyEnv))
	if token == "" {
		return nil, ckerrors.New(ckerrors.LLMUnavailable, fmt.Sprintf("%s is not set", keyEnv), nil)
	}

	opts := []openai.Option{openai.WithToken(token)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		logger.Info("Using custom LLM endpoint", "baseURL", cfg.BaseURL)
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, ckerrors.New(ckerrors.LLMUnavailable, "failed to create LLM client", err)
	}
	return &LangChainClient{model: model, name: cfg.Model, logger: logger}, nil
}

// NewClient returns a configured client, or nil when the LLM is disabled or
// unavailable. A nil client makes every batch take its fallback.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) Client {
	if !cfg.Enabled {
		return nil
	}
	c, err := NewLangChainClient(cfg, logger)
	if err != nil {
		logger.Warn("LLM disabled, using deterministic fallbacks", "error", err.Error())
		return nil
	}
	return c
}

// Complete sends a system and user message and returns the first choice
func (c *LangChainClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", ckerrors.New(ckerrors.LLMUnavailable, "completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", ckerrors.New(ckerrors.LLMUnavailable, "completion returned no choices", nil)
	}
	c.logger.Debug("LLM completion", "model", c.name, "chars", len(resp.Choices[0].Content))
	return resp.Choices[0].Content, nil
}
