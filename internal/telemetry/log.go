package telemetry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCapacity   = 200
	DefaultRPMLimit   = 15
	DefaultDailyLimit = 1500
	DefaultQuotaLimit = 1_000_000
	DefaultThreshold  = 80
	DefaultCooldown   = 10 * time.Minute

	alertTool = "System Alert"
)

// Settings are the admin-editable alert settings.
type Settings struct {
	AlertEmail string `json:"alert_email"`
	// Threshold is the RPM usage percentage that fires an alert.
	Threshold     float64   `json:"threshold"`
	LastAlertSent time.Time `json:"last_alert_sent,omitempty"`
}

// Forwarder receives every entry the log records. *Recorder implements it.
type Forwarder interface {
	Send(Entry)
}

// Config configures a Log.
type Config struct {
	Capacity   int
	RPMLimit   int
	DailyLimit int
	QuotaLimit int

	Settings Settings
	Cooldown time.Duration

	Forward Forwarder

	Now    func() time.Time
	Logger *slog.Logger
}

// Log is a capped, newest-first log of invocations.
type Log struct {
	capacity   int
	rpmLimit   int
	dailyLimit int
	quotaLimit int
	forward    Forwarder
	now        func() time.Time
	logger     *slog.Logger

	mu        sync.RWMutex
	entries   []Entry
	quotaUsed int64
	settings  Settings
	cooldown  time.Duration
}

// NewLog creates a Log.
func NewLog(cfg Config) *Log {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RPMLimit <= 0 {
		cfg.RPMLimit = DefaultRPMLimit
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.QuotaLimit <= 0 {
		cfg.QuotaLimit = DefaultQuotaLimit
	}
	if cfg.Settings.Threshold <= 0 {
		cfg.Settings.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Log{
		capacity:   cfg.Capacity,
		rpmLimit:   cfg.RPMLimit,
		dailyLimit: cfg.DailyLimit,
		quotaLimit: cfg.QuotaLimit,
		forward:    cfg.Forward,
		now:        cfg.Now,
		logger:     cfg.Logger,
		settings:   cfg.Settings,
		cooldown:   cfg.Cooldown,
	}
}

// Record appends e, stamping its ID and timestamp when unset, and then
// checks the alert threshold. It never blocks on persistence.
func (l *Log) Record(e Entry) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.FileFormats == nil {
		e.FileFormats = []string{}
	}

	l.mu.Lock()
	l.push(e)
	l.quotaUsed++
	l.mu.Unlock()

	if l.forward != nil {
		l.forward.Send(e)
	}
	l.CheckAlert()
}

// push prepends e and evicts the oldest entries beyond capacity.
// Callers hold l.mu.
func (l *Log) push(e Entry) {
	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
}

// Restore loads previously persisted entries, newest first, without
// forwarding them again.
func (l *Log) Restore(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > l.capacity {
		sorted = sorted[:l.capacity]
	}

	l.mu.Lock()
	l.entries = sorted
	l.mu.Unlock()
}

// Logs returns up to limit entries, newest first. limit <= 0 returns all.
func (l *Log) Logs(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, l.entries[:n])
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry and resets the cumulative quota counter.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.quotaUsed = 0
	l.mu.Unlock()
	l.logger.Info("usage log cleared")
}

// Settings returns the current alert settings.
func (l *Log) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// UpdateSettings replaces the alert e-mail and threshold. The last alert
// time is kept unless s carries one.
func (l *Log) UpdateSettings(s Settings) error {
	if s.Threshold <= 0 || s.Threshold > 100 {
		return fmt.Errorf("threshold must be in (0, 100], got %v", s.Threshold)
	}
	l.mu.Lock()
	if s.LastAlertSent.IsZero() {
		s.LastAlertSent = l.settings.LastAlertSent
	}
	l.settings = s
	l.mu.Unlock()
	return nil
}

// SetCooldown changes the minimum spacing between alerts.
func (l *Log) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.cooldown = d
	l.mu.Unlock()
}

// CheckAlert fires an alert entry when the last-minute request rate reaches
// the threshold share of the RPM ceiling and no alert was sent within the
// cooldown. It reports whether an alert fired.
func (l *Log) CheckAlert() (Entry, bool) {
	now := l.now()

	l.mu.Lock()
	rpm := l.countSince(now.Add(-time.Minute))
	usage := float64(rpm) / float64(l.rpmLimit) * 100
	if usage < l.settings.Threshold {
		l.mu.Unlock()
		return Entry{}, false
	}
	last := l.settings.LastAlertSent
	if !last.IsZero() && now.Sub(last) <= l.cooldown {
		l.mu.Unlock()
		return Entry{}, false
	}

	alert := Entry{
		ID:            fmt.Sprintf("alert-%d", now.UnixMilli()),
		Timestamp:     now,
		Tool:          alertTool,
		Model:         "N/A",
		Status:        StatusError,
		ErrorCategory: CategoryInternal,
		ErrorMessage:  fmt.Sprintf("CRITICAL: %.1f%% RPM usage. Notified %s.", usage, l.settings.AlertEmail),
		FileFormats:   []string{},
		IsAlert:       true,
	}
	email := l.settings.AlertEmail
	l.push(alert)
	l.settings.LastAlertSent = now
	l.mu.Unlock()

	l.logger.Warn("usage alert", "rpm", rpm, "limit", l.rpmLimit, "usage_pct", usage, "notify", email)
	if l.forward != nil {
		l.forward.Send(alert)
	}
	return alert, true
}

// countSince counts non-alert entries strictly newer than t.
// Callers hold l.mu.
func (l *Log) countSince(t time.Time) int {
	n := 0
	for _, e := range l.entries {
		if !e.IsAlert && e.Timestamp.After(t) {
			n++
		}
	}
	return n
}
