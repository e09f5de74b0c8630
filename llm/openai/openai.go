package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sweetpotato0/ai-research/llm"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxTokens       int64
	Temperature     float64
	JSONTemperature float64
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:           "gpt-4o-mini",
		MaxTokens:       2000,
		Temperature:     0.3,
		JSONTemperature: 0,
	}
}

// Provider implements llm.Completer on the OpenAI chat completions API.
type Provider struct {
	config *Config
	client openai.Client
}

var _ llm.Completer = (*Provider)(nil)

// New creates a new OpenAI provider using the official SDK. SDK-level retries are
// disabled; callers wrap the provider with llm.WithRateLimitRetry.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT4oMini)
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Complete implements llm.Completer.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	params := p.params(prompt, p.config.Temperature)
	return p.do(ctx, params)
}

// CompleteJSON implements llm.Completer using JSON-object response mode.
func (p *Provider) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	params := p.params(prompt, p.config.JSONTemperature)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	out, err := p.do(ctx, params)
	if err != nil {
		return "", err
	}
	return llm.StripCodeFence(out), nil
}

func (p *Provider) params(prompt string, temperature float64) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:    openai.ChatModel(p.config.Model),
	}
	if temperature > 0 {
		params.Temperature = param.NewOpt(temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	return params
}

func (p *Provider) do(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from OpenAI")
	}
	return completion.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}
