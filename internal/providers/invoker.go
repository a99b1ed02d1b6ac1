package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBaseDelay is the linear backoff step between attempts on one model.
const DefaultBaseDelay = 300 * time.Millisecond

// DefaultMaxRetries is the number of retries per model after the first attempt.
const DefaultMaxRetries = 2

// State is a step of the per-request retry machine.
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateNextModel
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateNextModel:
		return "next_model"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolver maps a model id to the Generator serving it. *Registry implements it.
type Resolver interface {
	For(model string) (Generator, error)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UpstreamError is the final failure of an invocation.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Status returns the upstream HTTP status, or 0 for transport and response failures.
func (e *UpstreamError) Status() int {
	var se *StatusError
	if errors.As(e.Err, &se) {
		return se.Status
	}
	return 0
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Resolver       Resolver
	PrimaryModel   string
	FallbackModels []string
	BaseDelay      time.Duration
	Sleep          Sleeper
	Logger         *slog.Logger

	// OnTransition, if set, observes every state the machine enters.
	OnTransition func(state State, model string, attempt int)
}

// Invoker calls the model candidates in order with retry and fallback.
//
// Each candidate is attempted up to maxRetries+1 times. Quota failures back
// off linearly (attempt x BaseDelay) and, once a model's attempts are spent,
// move on to the next candidate. Invalid responses retry on the same model
// only. Every other failure is returned immediately.
type Invoker struct {
	resolver     Resolver
	baseDelay    time.Duration
	sleep        Sleeper
	logger       *slog.Logger
	onTransition func(State, string, int)

	mu     sync.RWMutex
	models []string
}

// NewInvoker creates an Invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Invoker{
		resolver:     cfg.Resolver,
		baseDelay:    cfg.BaseDelay,
		sleep:        cfg.Sleep,
		logger:       cfg.Logger,
		onTransition: cfg.OnTransition,
		models:       Candidates(cfg.PrimaryModel, cfg.FallbackModels),
	}
}

// SetModels replaces the candidate chain.
func (i *Invoker) SetModels(primary string, fallbacks []string) {
	models := Candidates(primary, fallbacks)
	i.mu.Lock()
	i.models = models
	i.mu.Unlock()
	i.logger.Info("model candidates updated", "models", models)
}

// Models returns the current candidate chain.
func (i *Invoker) Models() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.models...)
}

// Invoke sends prompt and parts through the candidate chain. Failures are
// returned as *UpstreamError, except context cancellation.
func (i *Invoker) Invoke(ctx context.Context, prompt string, parts []Part, maxRetries int) (*GenerateResult, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	models := i.Models()

	var (
		state     = StateAttempting
		idx       int
		attempt   int
		total     int
		lastErr   error
		lastQuota error
	)

	for {
		model := models[min(idx, len(models)-1)]
		if i.onTransition != nil {
			i.onTransition(state, model, attempt)
		}

		switch state {
		case StateAttempting:
			attempt++
			total++

			gen, err := i.resolver.For(model)
			if err != nil {
				return nil, &UpstreamError{Model: model, Err: err}
			}

			i.logger.Debug("model attempt", "model", model, "attempt", attempt)
			res, err := gen.Generate(ctx, &GenerateRequest{Model: model, Prompt: prompt, Parts: parts})
			if err == nil {
				res.Attempts = total
				return res, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			lastErr = err
			switch {
			case IsQuotaError(err):
				lastQuota = err
			case errors.Is(err, ErrInvalidResponse):
			default:
				i.logger.Error("model call failed", "model", model, "attempt", attempt, "error", err)
				return nil, &UpstreamError{Model: model, Err: err}
			}

			if attempt <= maxRetries {
				state = StateBackoff
			} else {
				state = StateNextModel
			}

		case StateBackoff:
			if err := i.sleep(ctx, time.Duration(attempt)*i.baseDelay); err != nil {
				return nil, err
			}
			state = StateAttempting

		case StateNextModel:
			if !IsQuotaError(lastErr) {
				return nil, &UpstreamError{Model: model, Err: lastErr}
			}
			idx++
			attempt = 0
			if idx >= len(models) {
				state = StateExhausted
				continue
			}
			i.logger.Warn("model quota exhausted, falling back", "from", model, "to", models[idx], "error", lastErr)
			state = StateAttempting

		case StateExhausted:
			i.logger.Error("all model candidates exhausted", "models", models, "error", lastQuota)
			return nil, &UpstreamError{Model: model, Err: lastQuota}
		}
	}
}
