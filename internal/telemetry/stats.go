package telemetry

import (
	"math"
	"time"
)

// Per-million-token prices used for cost estimates, in USD.
const (
	CostPerMillionInput  = 0.075
	CostPerMillionOutput = 0.30

	recentLogs = 30
)

// Health summarizes service condition from success rate and request rate.
type Health string

const (
	Healthy  Health = "Healthy"
	Degraded Health = "Degraded"
	Critical Health = "Critical"
)

// ToolUsage counts invocations of one tool.
type ToolUsage struct {
	Count   int `json:"count"`
	Success int `json:"success"`
}

// Stats is the aggregate view of the log.
type Stats struct {
	Total         int                  `json:"total"`
	QuotaUsed     int64                `json:"quota_used"`
	QuotaLimit    int                  `json:"quota_limit"`
	DailyUsed     int                  `json:"daily_used"`
	DailyLimit    int                  `json:"daily_limit"`
	RPM           int                  `json:"rpm"`
	RPMLimit      int                  `json:"rpm_limit"`
	TokensIn      int                  `json:"tokens_in"`
	TokensOut     int                  `json:"tokens_out"`
	EstimatedCost float64              `json:"estimated_cost"`
	AccuracyAvg   int                  `json:"accuracy_avg"`
	SuccessRate   float64              `json:"success_rate"`
	Health        Health               `json:"health"`
	ToolUsage     map[string]ToolUsage `json:"tool_usage"`
	RecentLogs    []Entry              `json:"recent_logs"`
}

// EstimateCost prices a token count pair.
func EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1e6*CostPerMillionInput + float64(tokensOut)/1e6*CostPerMillionOutput
}

// Stats computes aggregates over the held entries. Alert entries are
// excluded from every figure except RecentLogs.
func (l *Log) Stats() Stats {
	now := l.now()
	minuteAgo := now.Add(-time.Minute)
	dayAgo := now.Add(-24 * time.Hour)

	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		QuotaUsed:  l.quotaUsed,
		QuotaLimit: l.quotaLimit,
		DailyLimit: l.dailyLimit,
		RPMLimit:   l.rpmLimit,
		ToolUsage:  make(map[string]ToolUsage),
	}

	var successes, accuracySum int
	for _, e := range l.entries {
		if e.IsAlert {
			continue
		}
		s.Total++
		if e.Timestamp.After(minuteAgo) {
			s.RPM++
		}
		if e.Timestamp.After(dayAgo) {
			s.DailyUsed++
		}
		s.TokensIn += e.InputTokens
		s.TokensOut += e.OutputTokens

		tu := s.ToolUsage[e.Tool]
		tu.Count++
		if e.Success() {
			tu.Success++
			successes++
			if e.AccuracyScore > 0 {
				accuracySum += e.AccuracyScore
			} else {
				accuracySum += 100
			}
		}
		s.ToolUsage[e.Tool] = tu
	}

	s.EstimatedCost = math.Round(EstimateCost(s.TokensIn, s.TokensOut)*1e4) / 1e4

	s.AccuracyAvg = 100
	if successes > 0 {
		s.AccuracyAvg = int(math.Round(float64(accuracySum) / float64(successes)))
	}
	s.SuccessRate = 100
	if s.Total > 0 {
		s.SuccessRate = float64(successes) / float64(s.Total) * 100
	}
	s.Health = classify(s.SuccessRate, float64(s.RPM)/float64(s.RPMLimit))

	n := len(l.entries)
	if n > recentLogs {
		n = recentLogs
	}
	s.RecentLogs = make([]Entry, n)
	copy(s.RecentLogs, l.entries[:n])
	return s
}

func classify(successRate, rpmLoad float64) Health {
	switch {
	case successRate < 70 || rpmLoad > 0.9:
		return Critical
	case successRate < 90 || rpmLoad > 0.7:
		return Degraded
	default:
		return Healthy
	}
}
