package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName = "openai"
	// OpenAIPrefix routes a candidate model id to the OpenAI client.
	OpenAIPrefix = "openai/"
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string        // Optional (tests, compatible gateways)
	Timeout    time.Duration // HTTP timeout
	RPM        int          // Outbound requests per minute per model; 0 disables
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIClient serves "openai/<model>" candidates through the official SDK.
// SDK retries are disabled: the Invoker owns retry and fallback.
type OpenAIClient struct {
	client openai.Client
	limits *modelLimiters
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		limits: newModelLimiters(cfg.RPM, nil),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Generate sends the parts and prompt as a single user message.
func (c *OpenAIClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	model := strings.TrimPrefix(req.Model, OpenAIPrefix)

	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Parts)+1)
	for _, p := range req.Parts {
		switch v := p.(type) {
		case TextPart:
			content = append(content, openai.TextContentPart(v.Text))
		case InlinePart:
			if !strings.HasPrefix(v.MIMEType, "image/") {
				return nil, fmt.Errorf("model %s: unsupported inline part type %s", req.Model, v.MIMEType)
			}
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + v.MIMEType + ";base64," + v.Data,
			}))
		}
	}
	content = append(content, openai.TextContentPart(req.Prompt))

	if err := c.limits.Wait(ctx, req.Model); err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(content),
		},
	})
	if err != nil {
		return nil, c.mapError(req.Model, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: no choice text (model=%s)", ErrInvalidResponse, req.Model)
	}

	return &GenerateResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        req.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Latency:      time.Since(start),
	}, nil
}

func (c *OpenAIClient) mapError(model string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai request failed: %w", err)
	}
	retryAfter := time.Duration(0)
	if apiErr.Response != nil {
		retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return &StatusError{
		Status:     apiErr.StatusCode,
		Body:       strings.TrimSpace(apiErr.Code + " " + apiErr.Message),
		Model:      model,
		RetryAfter: retryAfter,
	}
}

var _ Generator = (*OpenAIClient)(nil)
