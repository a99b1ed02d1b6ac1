package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	GeminiName           = "gemini"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
)

// GeminiConfig holds configuration for the Gemini REST client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string        // Optional (tests)
	Timeout    time.Duration // HTTP timeout
	RPM        int           // Outbound requests per minute per model; 0 disables
	Wait       Sleeper       // Optional (tests); waits for a limiter token
	HTTPClient *http.Client  // Optional (tests)
}

// GeminiClient calls the generateContent endpoint of the Gemini REST API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limits  *modelLimiters
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &GeminiClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
		limits:  newModelLimiters(cfg.RPM, cfg.Wait),
	}
	return c
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Limiter returns the outbound limiter for model, or nil when RPM is 0.
func (c *GeminiClient) Limiter(model string) *RateLimiter {
	return c.limits.get(model)
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []wirePart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate posts the parts followed by the prompt as a final text part and
// returns the first candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()

	parts := make([]wirePart, 0, len(req.Parts)+1)
	for _, p := range req.Parts {
		w, err := toWire(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, w)
	}
	prompt := req.Prompt
	parts = append(parts, wirePart{Text: &prompt})

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limits.Wait(ctx, req.Model); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = parseRetryDelay(string(respBody))
		}
		return nil, &StatusError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			Model:      req.Model,
			RetryAfter: retryAfter,
		}
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 || gr.Candidates[0].Content.Parts[0].Text == nil {
		return nil, fmt.Errorf("%w: no candidate text (model=%s)", ErrInvalidResponse, req.Model)
	}

	return &GenerateResult{
		Text:         *gr.Candidates[0].Content.Parts[0].Text,
		Model:        req.Model,
		InputTokens:  gr.UsageMetadata.PromptTokenCount,
		OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
		Latency:      time.Since(start),
	}, nil
}

var _ Generator = (*GeminiClient)(nil)
