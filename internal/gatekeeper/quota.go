package gatekeeper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackzampolin/tabula/internal/store"
)

// Limits are the quota ceilings, checked in field order.
type Limits struct {
	UserMinute int64 `json:"user_minute"`
	UserDaily  int64 `json:"user_daily"`
	TeamDaily  int64 `json:"team_daily"`
}

// DefaultLimits returns the stock ceilings.
func DefaultLimits() Limits {
	return Limits{UserMinute: 5, UserDaily: 15, TeamDaily: 200}
}

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
	lockTTL      = 3 * time.Second
	cacheTTL     = time.Hour
)

// window is one quota counter and the message sent when it is exceeded.
type window struct {
	key     string
	ttl     time.Duration
	limit   int64
	message string
}

func windows(user string, l Limits) []window {
	return []window{
		{store.MinutePrefix + user, minuteWindow, l.UserMinute, "Minute limit exceeded"},
		{store.DailyPrefix + user, dayWindow, l.UserDaily, "Daily limit exceeded"},
		{store.TeamDailyKey, dayWindow, l.TeamDaily, "Team daily limit exceeded"},
	}
}

// charge increments every window in order and stops at the first one over
// its ceiling. The increment happens before the comparison, so a rejected
// request still consumes one unit of the window that rejected it.
func (g *Gatekeeper) charge(ctx context.Context, user string, l Limits) error {
	for _, w := range windows(user, l) {
		n, err := g.store.IncrExpire(ctx, w.key, w.ttl)
		if err != nil {
			return newError(KindInternal, "Gemini request failed", fmt.Errorf("quota %s: %w", w.key, err))
		}
		if n > w.limit {
			g.logger.Info("quota exceeded", "user", user, "key", w.key, "count", n, "limit", w.limit)
			return newError(KindTooManyRequests, w.message, nil)
		}
	}
	return nil
}

// Usage is a snapshot of one user's counters.
type Usage struct {
	User       string `json:"user"`
	Minute     int64  `json:"minute"`
	Daily      int64  `json:"daily"`
	TeamDaily  int64  `json:"team_daily"`
	Limits     Limits `json:"limits"`
	LockActive bool   `json:"lock_active"`
}

// Usage reports the current counters for user without charging them.
func (g *Gatekeeper) Usage(ctx context.Context, user string) (*Usage, error) {
	user = NormalizeUser(user)
	u := &Usage{User: user, Limits: g.Limits()}

	read := func(key string) (int64, error) {
		v, ok, err := g.store.Get(ctx, key)
		if err != nil || !ok {
			return 0, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %s: %w", key, err)
		}
		return n, nil
	}

	var err error
	if u.Minute, err = read(store.MinutePrefix + user); err != nil {
		return nil, err
	}
	if u.Daily, err = read(store.DailyPrefix + user); err != nil {
		return nil, err
	}
	if u.TeamDaily, err = read(store.TeamDailyKey); err != nil {
		return nil, err
	}
	_, u.LockActive, err = g.store.Get(ctx, store.LockPrefix+user)
	if err != nil {
		return nil, err
	}
	return u, nil
}
