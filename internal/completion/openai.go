package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint. Set it to point at a local
	// gateway (Ollama, vLLM, LiteLLM) exposing the OpenAI API.
	BaseURL string

	// Model is the default model when a request does not name one.
	Model string

	// APIKey authenticates against the backend. Optional when BaseURL
	// points at a gateway that ignores authentication.
	APIKey string
}

// OpenAIClient generates completions through any backend speaking the
// OpenAI chat API.
type OpenAIClient struct {
	llm    *openai.LLM
	model  string
	logger *zap.Logger
}

// NewOpenAIClient builds the adapter. Either an API key or a base URL
// must be set.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("completion: openai requires an api key or a base url")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even when the gateway ignores it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, "completion.NewOpenAIClient", err)
	}

	logger.Info("openai completion client ready",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)
	return &OpenAIClient{llm: llm, model: cfg.Model, logger: logger}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, req.Prompt, opts...)
	if err != nil {
		return "", fault.Wrap(fault.CodeExternal, "completion.openai.Complete", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fault.New(fault.CodeExternal, "completion.openai.Complete", "backend returned an empty completion")
	}
	return out, nil
}
