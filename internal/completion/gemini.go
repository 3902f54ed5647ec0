package completion

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	// Model is the default model when a request does not name one.
	Model string

	// APIKey authenticates against the Gemini API. Required.
	APIKey string
}

// GeminiClient generates completions through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient builds the adapter.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("completion: gemini requires an api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("completion: gemini requires a model")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, "completion.NewGeminiClient", err)
	}

	logger.Info("gemini completion client ready", zap.String("model", cfg.Model))
	return &GeminiClient{client: client, model: cfg.Model, logger: logger}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return "", fault.Wrap(fault.CodeExternal, "completion.gemini.Complete", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fault.New(fault.CodeExternal, "completion.gemini.Complete", "backend returned an empty completion")
	}
	return text, nil
}
