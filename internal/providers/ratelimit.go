package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket holding one minute of requests.
// It is an outbound ceiling only: upstream 429s are handled by the Invoker
// and never touch the bucket. The bucket refills continuously at
// requestsPerMinute/60 tokens per second.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	now               func() time.Time
	wait              Sleeper

	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter creates a limiter allowing requestsPerMinute requests per minute.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 15
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
		wait:              SleepContext,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.timeUntilToken()
		sleep := r.wait
		r.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
		r.mu.Lock()
		r.totalWaited += wait
		r.mu.Unlock()
	}
}

// SetClock replaces the time source and the function used to wait for a
// token. Either may be nil to keep the current one.
func (r *RateLimiter) SetClock(now func() time.Time, wait Sleeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now != nil {
		r.now = now
		r.lastUpdate = now()
	}
	if wait != nil {
		r.wait = wait
	}
}

// TryConsume attempts to consume a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens < 1.0 {
		return false
	}
	r.tokens--
	r.totalConsumed++
	return true
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	utilization := 1.0 - (r.tokens / float64(r.requestsPerMinute))
	if utilization < 0 {
		utilization = 0
	}

	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.requestsPerMinute,
		Utilization:     utilization,
		TimeUntilToken:  r.timeUntilToken(),
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
}

// timeUntilToken must be called with lock held.
func (r *RateLimiter) timeUntilToken() time.Duration {
	if r.tokens >= 1.0 {
		return 0
	}
	perSecond := float64(r.requestsPerMinute) / 60.0
	return time.Duration((1.0 - r.tokens) / perSecond * float64(time.Second))
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * float64(r.requestsPerMinute) / 60.0
	if r.tokens > float64(r.requestsPerMinute) {
		r.tokens = float64(r.requestsPerMinute)
	}
}

// modelLimiters keeps one bucket per model id, since upstream request
// quotas are counted per model. A zero rpm disables limiting.
type modelLimiters struct {
	mu       sync.Mutex
	rpm      int
	now      func() time.Time
	wait     Sleeper
	limiters map[string]*RateLimiter
}

func newModelLimiters(rpm int, wait Sleeper) *modelLimiters {
	return &modelLimiters{rpm: rpm, wait: wait, limiters: make(map[string]*RateLimiter)}
}

// get returns the limiter for model, or nil when limiting is disabled.
func (m *modelLimiters) get(model string) *RateLimiter {
	if m.rpm <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[model]
	if !ok {
		l = NewRateLimiter(m.rpm)
		l.SetClock(m.now, m.wait)
		m.limiters[model] = l
	}
	return l
}

// Wait blocks until model has a token.
func (m *modelLimiters) Wait(ctx context.Context, model string) error {
	if l := m.get(model); l != nil {
		return l.Wait(ctx)
	}
	return nil
}
