package endpoints

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// DefaultStatsTTL is how long a computed stats reply is reused.
const DefaultStatsTTL = 5 * time.Second

// UserCount is one user's request count for the current day window.
type UserCount struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}

// StatsResponse is the per-user daily usage.
type StatsResponse struct {
	Users []UserCount `json:"users"`
	Total int64       `json:"total"`
	Error string      `json:"error,omitempty"`
}

// StatsEndpoint handles GET /api/stats.
type StatsEndpoint struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	cached   *StatsResponse
	cachedAt time.Time
}

func (e *StatsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/stats", e.handler
}

func (e *StatsEndpoint) RequiresInit() bool  { return true }
func (e *StatsEndpoint) RequiresAdmin() bool { return true }

func (e *StatsEndpoint) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *StatsEndpoint) ttl() time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return DefaultStatsTTL
}

func (e *StatsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, StatsResponse{Users: []UserCount{}, Error: "store not initialized"})
		return
	}

	now := e.now()
	e.mu.Lock()
	if e.cached != nil && now.Sub(e.cachedAt) < e.ttl() {
		resp := *e.cached
		e.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	e.mu.Unlock()

	resp, err := dailyStats(r.Context(), st)
	if err != nil {
		logError(r, "stats scan failed", err)
		writeJSON(w, http.StatusInternalServerError, StatsResponse{Users: []UserCount{}, Error: "Unable to load stats"})
		return
	}

	e.mu.Lock()
	e.cached = resp
	e.cachedAt = now
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// dailyStats reads every per-user daily counter. Values that do not parse
// as integers count as zero.
func dailyStats(ctx context.Context, st store.Store) (*StatsResponse, error) {
	keys, err := st.Scan(ctx, store.DailyScanPattern)
	if err != nil {
		return nil, err
	}

	resp := &StatsResponse{Users: make([]UserCount, 0, len(keys))}
	for _, key := range keys {
		v, ok, err := st.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			n = 0
		}
		resp.Users = append(resp.Users, UserCount{ID: strings.TrimPrefix(key, store.DailyPrefix), Count: n})
		resp.Total += n
	}

	sort.SliceStable(resp.Users, func(i, j int) bool {
		if resp.Users[i].Count != resp.Users[j].Count {
			return resp.Users[i].Count > resp.Users[j].Count
		}
		return resp.Users[i].ID < resp.Users[j].ID
	})
	return resp, nil
}

func (e *StatsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-user request counts for the current day",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatsResponse
			if err := client.Get(cmd.Context(), "/api/stats", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
