package providers

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestInvoker(mock *MockGenerator, sleeper *recordingSleeper, models ...string) *Invoker {
	return NewInvoker(InvokerConfig{
		Resolver:       mock,
		PrimaryModel:   models[0],
		FallbackModels: models[1:],
		Sleep:          sleeper.Sleep,
	})
}

func TestInvoker_FallsBackOnQuota(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: &StatusError{Status: 429, Model: "gemini-2.0-flash"}}).
		On("gemini-2.5-flash", MockReply{Text: "from fallback"})
	sleeper := &recordingSleeper{}

	var states []State
	inv := newTestInvoker(mock, sleeper, "gemini-2.0-flash", "gemini-2.5-flash")
	inv.onTransition = func(s State, model string, attempt int) { states = append(states, s) }

	res, err := inv.Invoke(context.Background(), "prompt", nil, 2)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Text != "from fallback" || res.Model != "gemini-2.5-flash" {
		t.Errorf("result = %+v", res)
	}
	if got := mock.Calls("gemini-2.0-flash"); got != 3 {
		t.Errorf("primary calls = %d, want 3", got)
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", res.Attempts)
	}

	wantDelays := []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}
	if !reflect.DeepEqual(sleeper.delays, wantDelays) {
		t.Errorf("delays = %v, want %v", sleeper.delays, wantDelays)
	}

	wantStates := []State{
		StateAttempting, StateBackoff,
		StateAttempting, StateBackoff,
		StateAttempting, StateNextModel,
		StateAttempting,
	}
	if !reflect.DeepEqual(states, wantStates) {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
}

func TestInvoker_FailsFastOnNonQuotaError(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: &StatusError{Status: 400, Body: "API key not valid", Model: "gemini-2.0-flash"}}).
		On("gemini-2.5-flash", MockReply{Text: "unreachable"})
	sleeper := &recordingSleeper{}

	_, err := newTestInvoker(mock, sleeper, "gemini-2.0-flash", "gemini-2.5-flash").
		Invoke(context.Background(), "prompt", nil, 2)

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.Status() != 400 || ue.Model != "gemini-2.0-flash" {
		t.Errorf("UpstreamError = status %d model %s", ue.Status(), ue.Model)
	}
	if mock.Calls("gemini-2.0-flash") != 1 {
		t.Errorf("primary calls = %d, want 1", mock.Calls("gemini-2.0-flash"))
	}
	if mock.Calls("gemini-2.5-flash") != 0 {
		t.Error("fallback should not be attempted")
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("unexpected backoff: %v", sleeper.delays)
	}
}

func TestInvoker_TransportErrorFailsFast(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: errors.New("dial tcp: connection refused")})

	_, err := newTestInvoker(mock, &recordingSleeper{}, "gemini-2.0-flash", "gemini-2.5-flash").
		Invoke(context.Background(), "prompt", nil, 2)
	if err == nil || mock.Calls("gemini-2.0-flash") != 1 || mock.Calls("gemini-2.5-flash") != 0 {
		t.Errorf("err = %v, calls = %d/%d", err, mock.Calls("gemini-2.0-flash"), mock.Calls("gemini-2.5-flash"))
	}
}

func TestInvoker_InvalidResponseRetriesSameModel(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: ErrInvalidResponse}, MockReply{Text: "recovered"})

	res, err := newTestInvoker(mock, &recordingSleeper{}, "gemini-2.0-flash").
		Invoke(context.Background(), "prompt", nil, 2)
	if err != nil || res.Text != "recovered" {
		t.Fatalf("Invoke() = %v, %v", res, err)
	}

	persistent := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: ErrInvalidResponse}).
		On("gemini-2.5-flash", MockReply{Text: "unreachable"})
	_, err = newTestInvoker(persistent, &recordingSleeper{}, "gemini-2.0-flash", "gemini-2.5-flash").
		Invoke(context.Background(), "prompt", nil, 2)

	var ue *UpstreamError
	if !errors.As(err, &ue) || !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected UpstreamError wrapping ErrInvalidResponse, got %v", err)
	}
	if persistent.Calls("gemini-2.0-flash") != 3 || persistent.Calls("gemini-2.5-flash") != 0 {
		t.Errorf("calls = %d/%d", persistent.Calls("gemini-2.0-flash"), persistent.Calls("gemini-2.5-flash"))
	}
}

func TestInvoker_ExhaustedReturnsLastQuotaError(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: &StatusError{Status: 429, Model: "gemini-2.0-flash"}}).
		On("gemini-2.5-flash", MockReply{Err: &StatusError{Status: 429, Model: "gemini-2.5-flash", RetryAfter: 5 * time.Second}})

	_, err := newTestInvoker(mock, &recordingSleeper{}, "gemini-2.0-flash", "gemini-2.5-flash").
		Invoke(context.Background(), "prompt", nil, 1)

	if !IsQuotaError(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if RetryAfterHint(err) != 5*time.Second {
		t.Errorf("RetryAfterHint() = %v", RetryAfterHint(err))
	}
	if !strings.Contains(err.Error(), "retry after 5s") {
		t.Errorf("message should carry retry hint: %q", err.Error())
	}
	if mock.Calls("gemini-2.0-flash") != 2 || mock.Calls("gemini-2.5-flash") != 2 {
		t.Errorf("calls = %d/%d, want 2/2", mock.Calls("gemini-2.0-flash"), mock.Calls("gemini-2.5-flash"))
	}
}

func TestInvoker_CancelledDuringBackoff(t *testing.T) {
	mock := NewMockGenerator().
		On("gemini-2.0-flash", MockReply{Err: &StatusError{Status: 429}})

	ctx, cancel := context.WithCancel(context.Background())
	inv := NewInvoker(InvokerConfig{
		Resolver: mock,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	_, err := inv.Invoke(ctx, "prompt", nil, 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInvoker_SetModels(t *testing.T) {
	mock := NewMockGenerator()
	inv := NewInvoker(InvokerConfig{Resolver: mock})

	if got := inv.Models(); !reflect.DeepEqual(got, []string{DefaultModel}) {
		t.Errorf("Models() = %v", got)
	}
	inv.SetModels("gemini-2.5-flash", []string{"gemini-pro"})
	if got := inv.Models(); !reflect.DeepEqual(got, []string{"gemini-2.5-flash", "gemini-2.0-flash"}) {
		t.Errorf("Models() = %v", got)
	}
}

func TestRegistry_Routing(t *testing.T) {
	r := NewRegistry()
	gemini := NewMockGenerator()
	openai := NewMockGenerator()
	r.Register("gemini", gemini)
	r.Register("openai", openai)
	r.Route(OpenAIPrefix, "openai")

	if g, _ := r.For("gemini-2.0-flash"); g != Generator(gemini) {
		t.Error("unprefixed model should route to the default client")
	}
	if g, _ := r.For("openai/gpt-4o-mini"); g != Generator(openai) {
		t.Error("openai/ model should route to the openai client")
	}

	r.Unregister("gemini")
	if _, err := r.For("gemini-2.0-flash"); err == nil {
		t.Error("expected error once default is removed")
	}
	if names := r.List(); !reflect.DeepEqual(names, []string{"openai"}) {
		t.Errorf("List() = %v", names)
	}
}

func TestRegistry_Reload(t *testing.T) {
	r := NewRegistryFromConfig(RegistryConfig{GeminiAPIKey: "g", OpenAIAPIKey: "o"})
	if !r.Has(GeminiName) || !r.Has(OpenAIName) {
		t.Fatalf("List() = %v", r.List())
	}

	r.Reload(RegistryConfig{OpenAIAPIKey: "o"})
	if r.Has(GeminiName) {
		t.Error("gemini should be unregistered")
	}
	if _, err := r.For("gemini-2.0-flash"); err == nil {
		t.Error("unprefixed model should have no client without a gemini key")
	}
	if _, err := r.For("openai/gpt-4o-mini"); err != nil {
		t.Errorf("For(openai/...) error = %v", err)
	}
}
