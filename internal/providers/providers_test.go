package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name      string
		primary   string
		fallbacks []string
		want      []string
	}{
		{"default when empty", "", nil, []string{"gemini-2.0-flash"}},
		{"alias rewrite and dedupe", "gemini-1.5-flash-latest", []string{"gemini-2.0-flash", "gemini-1.5-pro-002", " ", "gemini-2.5-pro"}, []string{"gemini-2.0-flash", "gemini-2.5-pro"}},
		{"order preserved", "gemini-2.5-flash", []string{"openai/gpt-4o-mini", "gemini-pro"}, []string{"gemini-2.5-flash", "openai/gpt-4o-mini", "gemini-2.0-flash"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.primary, tt.fallbacks)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitModelList(t *testing.T) {
	got := SplitModelList(" gemini-2.5-flash, ,openai/gpt-4o-mini ")
	want := []string{"gemini-2.5-flash", "openai/gpt-4o-mini"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitModelList() = %v, want %v", got, want)
	}
}

func TestParts_JSON(t *testing.T) {
	in := `[{"text":"hello"},{"inlineData":{"data":"aGk=","mimeType":"image/png"}},{}]`

	var parts Parts
	if err := json.Unmarshal([]byte(in), &parts); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2 (empty part dropped)", len(parts))
	}
	if tp, ok := parts[0].(TextPart); !ok || tp.Text != "hello" {
		t.Errorf("parts[0] = %#v", parts[0])
	}
	ip, ok := parts[1].(InlinePart)
	if !ok || ip.MIMEType != "image/png" {
		t.Fatalf("parts[1] = %#v", parts[1])
	}
	if b, _ := ip.Bytes(); string(b) != "hi" {
		t.Errorf("Bytes() = %q", b)
	}

	out, err := json.Marshal(parts)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `[{"text":"hello"},{"inlineData":{"data":"aGk=","mimeType":"image/png"}}]` {
		t.Errorf("Marshal() = %s", out)
	}

	if n := InlineSize(parts); n != 4 {
		t.Errorf("InlineSize() = %d, want 4", n)
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &StatusError{Status: 429}, true},
		{"resource exhausted body", &StatusError{Status: 503, Body: `{"error":{"status":"RESOURCE_EXHAUSTED"}}`}, true},
		{"quota body", &StatusError{Status: 403, Body: "Quota exceeded for metric"}, true},
		{"rate limit body", &StatusError{Status: 400, Body: "rate_limit_exceeded"}, true},
		{"plain 400", &StatusError{Status: 400, Body: "bad request"}, false},
		{"wrapped", fmt.Errorf("call: %w", &StatusError{Status: 429}), true},
		{"transport", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.err); got != tt.want {
				t.Errorf("IsQuotaError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{
		Status:     429,
		Body:       `{"error":{"code":429,"message":"Resource has been exhausted"}}`,
		Model:      "gemini-2.0-flash",
		RetryAfter: 5 * time.Second,
	}
	want := "model gemini-2.0-flash: status 429: Resource has been exhausted (retry after 5s)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestParseRetryHints(t *testing.T) {
	if d := parseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("parseRetryAfter(7) = %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", d)
	}
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay": "17s"}]}}`
	if d := parseRetryDelay(body); d != 17*time.Second {
		t.Errorf("parseRetryDelay() = %v", d)
	}
}

func TestMockGenerator(t *testing.T) {
	m := NewMockGenerator().On("a",
		MockReply{Err: &StatusError{Status: 429}},
		MockReply{Text: "ok"},
	)

	ctx := context.Background()
	if _, err := m.Generate(ctx, &GenerateRequest{Model: "a"}); err == nil {
		t.Error("expected scripted error first")
	}
	for i := 0; i < 2; i++ {
		res, err := m.Generate(ctx, &GenerateRequest{Model: "a"})
		if err != nil || res.Text != "ok" {
			t.Errorf("Generate() = %v, %v", res, err)
		}
	}
	res, _ := m.Generate(ctx, &GenerateRequest{Model: "b"})
	if res.Text != "mock response" {
		t.Errorf("unscripted model Text = %q", res.Text)
	}
	if m.Calls("a") != 3 || m.RequestCount() != 4 {
		t.Errorf("Calls(a) = %d, RequestCount = %d", m.Calls("a"), m.RequestCount())
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial burst", func(t *testing.T) {
		limiter := NewRateLimiter(600)

		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("try consume", func(t *testing.T) {
		limiter := NewRateLimiter(2)
		if !limiter.TryConsume() || !limiter.TryConsume() {
			t.Fatal("first two TryConsume should succeed")
		}
		if limiter.TryConsume() {
			t.Error("third TryConsume should fail")
		}
	})

	t.Run("waits through injected sleeper", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		var waits []time.Duration
		limiter := NewRateLimiter(60)
		limiter.SetClock(func() time.Time { return now }, func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			now = now.Add(d)
			return nil
		})

		for i := 0; i < 61; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		if len(waits) != 1 || waits[0] != time.Second {
			t.Errorf("waits = %v, want [1s]", waits)
		}
		if got := limiter.Status().TotalWaited; got != time.Second {
			t.Errorf("TotalWaited = %v, want 1s", got)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1)
		limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := limiter.Wait(ctx); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(6000)

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		if failures.Load() > 0 {
			t.Errorf("had %d errors", failures.Load())
		}
		if got := limiter.Status().TotalConsumed; got != 10 {
			t.Errorf("TotalConsumed = %d, want 10", got)
		}
	})
}

func TestModelLimiters_Independent(t *testing.T) {
	var waited int
	m := newModelLimiters(1, func(ctx context.Context, d time.Duration) error {
		waited++
		return ctx.Err()
	})

	if err := m.Wait(context.Background(), "gemini-2.0-flash"); err != nil {
		t.Fatalf("primary Wait() error = %v", err)
	}
	// The primary's bucket is empty; the fallback still has its own token.
	if err := m.Wait(context.Background(), "gemini-2.5-flash"); err != nil {
		t.Fatalf("fallback Wait() error = %v", err)
	}
	if waited != 0 {
		t.Errorf("waited %d times, want 0", waited)
	}

	if newModelLimiters(0, nil).get("gemini-2.0-flash") != nil {
		t.Error("rpm 0 should disable limiting")
	}
}
