// Package gatekeeper guards the upstream model behind authentication, a
// per-user request lock, layered quotas and a prompt-exact response cache.
//
// A request passes these steps in order, stopping at the first failure:
//
//  1. method check
//  2. required secrets present
//  3. prompt and user identity validation
//  4. allow-list membership (allow-list deployments) or the inline payload
//     ceiling (open deployments)
//  5. per-user lock, acquired with SET NX and released only by its TTL
//  6. minute, daily and team-daily quotas, each incremented then compared
//  7. cache lookup
//  8. model invocation, with the result cached on success
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/store"
)

// DefaultMaxInlineBytes is the combined base64 length ceiling for inline parts.
const DefaultMaxInlineBytes = 3_500_000

// AnonymousUser is the subject used by open deployments when the caller
// supplies no identity.
const AnonymousUser = "anonymous"

// Invoker calls the upstream model. *providers.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, parts []providers.Part, maxRetries int) (*providers.GenerateResult, error)
}

// Request is one gateway call.
type Request struct {
	Method string
	Prompt string
	Parts  []providers.Part
	User   string
}

// Result is a successful gateway reply.
type Result struct {
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
	Model  string `json:"model,omitempty"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Attempts int `json:"attempts,omitempty"`
}

// Config configures a Gatekeeper.
type Config struct {
	Store   store.Store
	Invoker Invoker

	// AllowList requires a user identity that is a member of users:list.
	AllowList bool
	// MaxInlineBytes bounds inline payloads when AllowList is off. 0 disables.
	MaxInlineBytes int
	Limits         Limits
	// MaxRetries is the per-model retry count passed to the invoker.
	// Nil uses providers.DefaultMaxRetries; 0 means a single attempt per model.
	MaxRetries *int

	// MissingSecrets reports the names of required secrets that are unset.
	MissingSecrets func() []string

	MemoTTL time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Gatekeeper admits, meters and caches model requests.
type Gatekeeper struct {
	store          store.Store
	invoker        Invoker
	allowList      bool
	maxInlineBytes int
	maxRetries     int
	missingSecrets func() []string
	memo           *memo
	logger         *slog.Logger

	mu     sync.RWMutex
	limits Limits
}

// New creates a Gatekeeper.
func New(cfg Config) *Gatekeeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	maxRetries := providers.DefaultMaxRetries
	if cfg.MaxRetries != nil {
		maxRetries = max(*cfg.MaxRetries, 0)
	}
	if cfg.MemoTTL == 0 {
		cfg.MemoTTL = 30 * time.Second
	}
	return &Gatekeeper{
		store:          cfg.Store,
		invoker:        cfg.Invoker,
		allowList:      cfg.AllowList,
		maxInlineBytes: cfg.MaxInlineBytes,
		maxRetries:     maxRetries,
		missingSecrets: cfg.MissingSecrets,
		memo:           newMemo(cfg.MemoTTL, 512, cfg.Now),
		logger:         cfg.Logger,
		limits:         cfg.Limits,
	}
}

// SetLimits replaces the quota ceilings.
func (g *Gatekeeper) SetLimits(l Limits) {
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()
	g.logger.Info("quota limits updated", "minute", l.UserMinute, "daily", l.UserDaily, "team", l.TeamDaily)
}

// Limits returns the current quota ceilings.
func (g *Gatekeeper) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// AllowList reports whether allow-list enforcement is on.
func (g *Gatekeeper) AllowList() bool {
	return g.allowList
}

// NormalizeUser trims and lower-cases a user identity.
func NormalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// Handle runs req through the gateway.
func (g *Gatekeeper) Handle(ctx context.Context, req Request) (*Result, error) {
	if req.Method != "" && req.Method != http.MethodPost {
		return nil, newError(KindMethodNotAllowed, "Method not allowed", nil)
	}

	if g.missingSecrets != nil {
		if missing := g.missingSecrets(); len(missing) > 0 {
			g.logger.Warn("gateway misconfigured", "missing", strings.Join(missing, ", "))
			return nil, newError(KindConfig, "Server configuration missing", nil)
		}
	}

	prompt := strings.TrimSpace(req.Prompt)
	if len([]rune(prompt)) < 2 {
		return nil, newError(KindInvalidInput, "Invalid prompt", nil)
	}

	user := NormalizeUser(req.User)
	if g.allowList {
		if user == "" {
			return nil, newError(KindInvalidInput, "Missing userId", nil)
		}
		ok, err := g.store.SIsMember(ctx, store.AllowListKey, user)
		if err != nil {
			return nil, newError(KindInternal, "Gemini request failed", fmt.Errorf("allow-list lookup: %w", err))
		}
		if !ok {
			return nil, newError(KindForbidden, "User is not allowed", nil)
		}
	} else {
		if user == "" {
			user = AnonymousUser
		}
		if g.maxInlineBytes > 0 {
			if size := providers.InlineSize(req.Parts); size > g.maxInlineBytes {
				g.logger.Info("payload rejected", "user", user, "size", size, "limit", g.maxInlineBytes)
				return nil, newError(KindPayloadTooLarge,
					"Payload too large: reduce the number or size of files and try again", nil)
			}
		}
	}

	locked, err := g.store.SetNX(ctx, store.LockPrefix+user, "1", lockTTL)
	if err != nil {
		return nil, newError(KindInternal, "Gemini request failed", fmt.Errorf("lock: %w", err))
	}
	if !locked {
		return nil, newError(KindTooManyRequests, "Too many quick requests", nil)
	}

	if err := g.charge(ctx, user, g.Limits()); err != nil {
		return nil, err
	}

	key := CacheKey(req.Prompt, req.Parts...)
	if text, ok := g.memo.get(key); ok {
		return &Result{Text: text, Cached: true}, nil
	}
	cached, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache lookup failed", "error", err)
	} else if ok && cached != "" {
		g.memo.put(key, cached)
		return &Result{Text: cached, Cached: true}, nil
	}

	res, err := g.invoker.Invoke(ctx, prompt, req.Parts, g.maxRetries)
	if err != nil {
		return nil, g.upstreamError(err)
	}

	if err := g.store.SetEx(ctx, key, res.Text, cacheTTL); err != nil {
		g.logger.Warn("cache write failed", "error", err)
	}
	g.memo.put(key, res.Text)

	out := &Result{Text: res.Text, Model: res.Model, Attempts: res.Attempts}
	out.Usage.InputTokens = res.InputTokens
	out.Usage.OutputTokens = res.OutputTokens
	return out, nil
}

func (g *Gatekeeper) upstreamError(err error) error {
	if providers.IsQuotaError(err) {
		msg := "Model quota exhausted, try again later"
		if d := providers.RetryAfterHint(err); d > 0 {
			msg = fmt.Sprintf("%s (retry after %s)", msg, d.Round(time.Second))
		}
		return newError(KindUpstream, msg, err)
	}
	return newError(KindUpstream, "Gemini request failed", err)
}
