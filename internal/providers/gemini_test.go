package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestGeminiClient_Generate(t *testing.T) {
	var payload struct {
		Contents []struct {
			Parts []map[string]any `json:"parts"`
		} `json:"contents"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("unexpected key: %s", r.URL.Query().Get("key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "[[\"Name\"]]"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 8}
		}`))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{APIKey: "test-key", BaseURL: server.URL})
	res, err := client.Generate(context.Background(), &GenerateRequest{
		Model:  "gemini-2.0-flash",
		Prompt: "extract the menu",
		Parts:  []Part{InlinePart{Data: "aGk=", MIMEType: "image/jpeg"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != `[["Name"]]` {
		t.Errorf("Text = %q", res.Text)
	}
	if res.InputTokens != 120 || res.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d", res.InputTokens, res.OutputTokens)
	}

	if len(payload.Contents) != 1 || len(payload.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if _, ok := payload.Contents[0].Parts[0]["inlineData"]; !ok {
		t.Error("inline part should come first")
	}
	if payload.Contents[0].Parts[1]["text"] != "extract the menu" {
		t.Errorf("prompt should be the final text part, got %v", payload.Contents[0].Parts[1])
	}
}

func TestGeminiClient_Errors(t *testing.T) {
	t.Run("rate limited with retry-after", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
		}))
		defer server.Close()

		client := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Generate(context.Background(), &GenerateRequest{Model: "gemini-2.0-flash", Prompt: "p"})

		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StatusError, got %v", err)
		}
		if !IsQuotaError(err) {
			t.Error("expected quota error")
		}
		if se.RetryAfter != 7*time.Second {
			t.Errorf("RetryAfter = %v, want 7s", se.RetryAfter)
		}
	})

	t.Run("retry delay from body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":429,"details":[{"retryDelay":"12s"}]}}`))
		}))
		defer server.Close()

		client := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Generate(context.Background(), &GenerateRequest{Model: "gemini-2.0-flash", Prompt: "p"})
		if RetryAfterHint(err) != 12*time.Second {
			t.Errorf("RetryAfterHint() = %v, want 12s", RetryAfterHint(err))
		}
	})

	t.Run("bad request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"API key not valid"}}`))
		}))
		defer server.Close()

		client := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Generate(context.Background(), &GenerateRequest{Model: "gemini-2.0-flash", Prompt: "p"})
		if err == nil || IsQuotaError(err) {
			t.Errorf("expected non-quota error, got %v", err)
		}
	})

	t.Run("missing candidate text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
		}))
		defer server.Close()

		client := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Generate(context.Background(), &GenerateRequest{Model: "gemini-2.0-flash", Prompt: "p"})
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got %v", err)
		}
	})
}

func TestOpenAIClient_Generate(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "[[\"Tea\"]]"}}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 4, "total_tokens": 34}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	res, err := client.Generate(context.Background(), &GenerateRequest{
		Model:  "openai/gpt-4o-mini",
		Prompt: "extract",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != `[["Tea"]]` || res.InputTokens != 30 || res.OutputTokens != 4 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Model != "openai/gpt-4o-mini" {
		t.Errorf("Model = %q", res.Model)
	}
	if payload["model"] != "gpt-4o-mini" {
		t.Errorf("prefix should be stripped, got model %v", payload["model"])
	}
}

func TestOpenAIClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","param":null,"code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &GenerateRequest{Model: "openai/gpt-4o-mini", Prompt: "p"})

	if !IsQuotaError(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if RetryAfterHint(err) != 3*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 3s", RetryAfterHint(err))
	}
}

func TestOpenAIClient_RejectsNonImageParts(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	_, err := client.Generate(context.Background(), &GenerateRequest{
		Model: "openai/gpt-4o-mini",
		Parts: []Part{InlinePart{Data: "aGk=", MIMEType: "application/pdf"}},
	})
	if err == nil {
		t.Error("expected error for pdf part")
	}
}

func TestRegistryInvoker_QuotaFallback(t *testing.T) {
	for _, rpm := range []int{0, 15} {
		var primary, fallback atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1beta/models/gemini-2.0-flash:generateContent":
				primary.Add(1)
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`))
			case "/v1beta/models/gemini-2.5-flash:generateContent":
				fallback.Add(1)
				w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
			default:
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
		}))

		reg := NewRegistry()
		reg.Reload(RegistryConfig{GeminiAPIKey: "k", GeminiBaseURL: server.URL, GeminiRPM: rpm})
		sleeper := &recordingSleeper{}
		inv := NewInvoker(InvokerConfig{
			Resolver:       reg,
			PrimaryModel:   "gemini-2.0-flash",
			FallbackModels: []string{"gemini-2.5-flash"},
			Sleep:          sleeper.Sleep,
		})

		start := time.Now()
		res, err := inv.Invoke(context.Background(), "extract", nil, 2)
		elapsed := time.Since(start)
		server.Close()

		if err != nil {
			t.Fatalf("rpm %d: Invoke() error = %v", rpm, err)
		}
		if res.Model != "gemini-2.5-flash" || res.Attempts != 4 {
			t.Errorf("rpm %d: model %s attempts %d", rpm, res.Model, res.Attempts)
		}
		if primary.Load() != 3 || fallback.Load() != 1 {
			t.Errorf("rpm %d: upstream calls = %d primary, %d fallback", rpm, primary.Load(), fallback.Load())
		}
		want := []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}
		if !reflect.DeepEqual(sleeper.delays, want) {
			t.Errorf("rpm %d: backoff = %v, want %v", rpm, sleeper.delays, want)
		}
		if elapsed > time.Second {
			t.Errorf("rpm %d: took %v, retries must not wait on the wall clock", rpm, elapsed)
		}

		g, err := reg.For("gemini-2.5-flash")
		if err != nil {
			t.Fatal(err)
		}
		if l := g.(*GeminiClient).Limiter("gemini-2.5-flash"); (l != nil) != (rpm > 0) {
			t.Errorf("rpm %d: limiter = %v", rpm, l)
		} else if l != nil && l.Status().TotalWaited != 0 {
			t.Errorf("rpm %d: fallback waited %v", rpm, l.Status().TotalWaited)
		}
	}
}
