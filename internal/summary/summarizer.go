// Package summary produces thread summaries through an LLM provider
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/slackreports/internal/retry"
	"github.com/slackreports/pkg/models"
)

// Provider represents an LLM provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

const (
	defaultOpenAIModel = "gpt-3.5-turbo"
	defaultOllamaModel = "llama3"
	defaultOllamaURL   = "http://localhost:11434"

	defaultTemperature = 0.7
	defaultMaxTokens   = 500
)

// ErrEmptyResponse is returned when the provider answers without any choice
var ErrEmptyResponse = errors.New("llm returned an empty response")

// ParseProvider normalizes a provider name. An empty name selects fallback.
func ParseProvider(name string, fallback Provider) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return fallback, nil
	case ProviderOpenAI, ProviderOllama:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s (supported providers: openai, ollama)", name)
	}
}

// Options configures the summarizer
type Options struct {
	DefaultProvider Provider
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxTokens       int
	Retry           retry.RetryConfig
}

// Summarizer renders the thread prompts and calls the requested provider.
// Models are created lazily and reused.
type Summarizer struct {
	opts Options

	mu     sync.Mutex
	models map[Provider]llms.Model
	create func(Provider) (llms.Model, error)
}

// New creates a summarizer; provider clients are built on first use
func New(opts Options) *Summarizer {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = ProviderOpenAI
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.MaxElapsedTime == 0 {
		opts.Retry = retry.LLMRetryConfig()
	}

	s := &Summarizer{opts: opts, models: make(map[Provider]llms.Model)}
	s.create = s.createModel
	return s
}

// WithModel registers a ready model for a provider, replacing any lazily built one
func (s *Summarizer) WithModel(provider Provider, model llms.Model) *Summarizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[provider] = model
	return s
}

func (s *Summarizer) model(provider Provider) (llms.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.models[provider]; ok {
		return m, nil
	}
	m, err := s.create(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", provider, err)
	}
	s.models[provider] = m
	return m, nil
}

func (s *Summarizer) createModel(provider Provider) (llms.Model, error) {
	log.Debug().
		Str("provider", string(provider)).
		Str("model", s.opts.Model).
		Msg("Creating LLM client")

	switch provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(s.setting(provider, s.opts.Model, defaultOpenAIModel))}
		if s.opts.APIKey != "" {
			opts = append(opts, openai.WithToken(s.opts.APIKey))
		}
		if baseURL := s.setting(provider, s.opts.BaseURL, ""); baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	case ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(s.setting(provider, s.opts.BaseURL, defaultOllamaURL)),
			ollama.WithModel(s.setting(provider, s.opts.Model, defaultOllamaModel)),
		)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// setting returns the configured value when it belongs to provider, else the provider default.
// Model and base URL are configured for the default provider only.
func (s *Summarizer) setting(provider Provider, configured, fallback string) string {
	if provider == s.opts.DefaultProvider && configured != "" {
		return configured
	}
	return fallback
}

// Summarize returns the summary text of a thread. An empty provider name uses the default.
func (s *Summarizer) Summarize(ctx context.Context, provider string, thread models.ThreadData) (string, error) {
	p, err := ParseProvider(provider, s.opts.DefaultProvider)
	if err != nil {
		return "", err
	}
	llm, err := s.model(p)
	if err != nil {
		return "", err
	}

	system, user := BuildPrompts(thread)
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}
	callOptions := []llms.CallOption{
		llms.WithTemperature(s.opts.Temperature),
		llms.WithMaxTokens(s.opts.MaxTokens),
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("provider", string(p)).
		Str("thread", thread.MainMessage.PostID).
		Int("replies", len(thread.Replies)).
		Msg("Requesting thread summary")

	var summary string
	err = retry.Do(ctx, s.opts.Retry, func() error {
		resp, err := llm.GenerateContent(ctx, content, callOptions...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		summary = strings.TrimSpace(resp.Choices[0].Content)
		return nil
	}, logger)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	return summary, nil
}
