package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sweetpotato0/ai-research/llm"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey          string
	Model           string
	MaxTokens       int32
	Temperature     float32
	JSONTemperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:          apiKey,
		Model:           "gemini-1.5-flash",
		MaxTokens:       2048,
		Temperature:     0.3,
		JSONTemperature: 0,
	}
}

// Provider implements llm.Completer on the Gemini API.
type Provider struct {
	config *Config
	client *genai.Client
	text   *genai.GenerativeModel
	json   *genai.GenerativeModel
}

var _ llm.Completer = (*Provider)(nil)

// New creates a Gemini provider. Close releases the underlying connection.
func New(ctx context.Context, config *Config, opts ...option.ClientOption) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(config.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	text := client.GenerativeModel(config.Model)
	text.SetTemperature(config.Temperature)
	if config.MaxTokens > 0 {
		text.SetMaxOutputTokens(config.MaxTokens)
	}

	js := client.GenerativeModel(config.Model)
	js.SetTemperature(config.JSONTemperature)
	if config.MaxTokens > 0 {
		js.SetMaxOutputTokens(config.MaxTokens)
	}
	js.ResponseMIMEType = "application/json"

	return &Provider{
		config: config,
		client: client,
		text:   text,
		json:   js,
	}, nil
}

// Close closes the client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete implements llm.Completer.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	return generate(ctx, p.text, prompt)
}

// CompleteJSON implements llm.Completer.
func (p *Provider) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	out, err := generate(ctx, p.json, prompt)
	if err != nil {
		return "", err
	}
	return llm.StripCodeFence(out), nil
}

func generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func classify(err error) error {
	if status.Code(err) == codes.ResourceExhausted {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "quota") {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	return fmt.Errorf("Gemini API error: %w", err)
}
