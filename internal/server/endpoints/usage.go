package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/svcctx"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// usageGroup nests the usage commands under "tabula api usage".
type usageGroup struct{}

func (usageGroup) Group() (string, string) { return "usage", "Inspect model usage and alerts" }

// UsageStatsEndpoint handles GET /api/usage.
type UsageStatsEndpoint struct{ usageGroup }

func (e *UsageStatsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/usage", e.handler
}

func (e *UsageStatsEndpoint) RequiresInit() bool  { return true }
func (e *UsageStatsEndpoint) RequiresAdmin() bool { return true }

func (e *UsageStatsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	usage := svcctx.UsageFrom(r.Context())
	if usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage log not initialized")
		return
	}
	writeJSON(w, http.StatusOK, usage.Stats())
}

func (e *UsageStatsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage aggregates and service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp telemetry.Stats
			if err := client.Get(cmd.Context(), "/api/usage", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UsageLogsResponse lists usage log entries, newest first.
type UsageLogsResponse struct {
	Logs []telemetry.Entry `json:"logs"`
}

// UsageLogsEndpoint handles GET /api/usage/logs.
type UsageLogsEndpoint struct{ usageGroup }

func (e *UsageLogsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/usage/logs", e.handler
}

func (e *UsageLogsEndpoint) RequiresInit() bool  { return true }
func (e *UsageLogsEndpoint) RequiresAdmin() bool { return true }

func (e *UsageLogsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	usage := svcctx.UsageFrom(r.Context())
	if usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage log not initialized")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	// Older entries evicted from memory are still in the database.
	if st := svcctx.UsageStoreFrom(r.Context()); st != nil && r.URL.Query().Get("source") == "db" {
		n := limit
		if n == 0 {
			n = -1 // SQLite: no limit
		}
		logs, err := st.Recent(r.Context(), n)
		if err != nil {
			logError(r, "usage log read failed", err)
			writeError(w, http.StatusInternalServerError, "failed to read usage logs")
			return
		}
		writeJSON(w, http.StatusOK, UsageLogsResponse{Logs: logs})
		return
	}

	writeJSON(w, http.StatusOK, UsageLogsResponse{Logs: usage.Logs(limit)})
}

func (e *UsageLogsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	var fromDB bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List usage log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/usage/logs?limit=%d", limit)
			if fromDB {
				path += "&source=db"
			}
			client := api.NewClient(getServerURL())
			var resp UsageLogsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries (0 for all)")
	cmd.Flags().BoolVar(&fromDB, "db", false, "Read from the persisted log instead of memory")
	return cmd
}

// ClearUsageLogsEndpoint handles DELETE /api/usage/logs.
type ClearUsageLogsEndpoint struct{ usageGroup }

func (e *ClearUsageLogsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/usage/logs", e.handler
}

func (e *ClearUsageLogsEndpoint) RequiresInit() bool  { return true }
func (e *ClearUsageLogsEndpoint) RequiresAdmin() bool { return true }

func (e *ClearUsageLogsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	usage := svcctx.UsageFrom(r.Context())
	if usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage log not initialized")
		return
	}
	usage.Clear()
	if st := svcctx.UsageStoreFrom(r.Context()); st != nil {
		if err := st.Clear(r.Context()); err != nil {
			logError(r, "usage log clear failed", err)
			writeError(w, http.StatusInternalServerError, "failed to clear persisted usage logs")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (e *ClearUsageLogsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the usage log",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/usage/logs", nil, nil); err != nil {
				return err
			}
			fmt.Println("Usage log cleared")
			return nil
		},
	}
}

// UpdateSettingsRequest is the request body for PUT /api/usage/settings.
type UpdateSettingsRequest struct {
	AlertEmail string  `json:"alert_email"`
	Threshold  float64 `json:"threshold"`
}

// UsageSettingsEndpoint handles PUT /api/usage/settings.
type UsageSettingsEndpoint struct{ usageGroup }

func (e *UsageSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/usage/settings", e.handler
}

func (e *UsageSettingsEndpoint) RequiresInit() bool  { return true }
func (e *UsageSettingsEndpoint) RequiresAdmin() bool { return true }

func (e *UsageSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	usage := svcctx.UsageFrom(r.Context())
	if usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage log not initialized")
		return
	}
	var req UpdateSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := usage.UpdateSettings(telemetry.Settings{AlertEmail: req.AlertEmail, Threshold: req.Threshold}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, usage.Settings())
}

func (e *UsageSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var email string
	var threshold float64
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Update the alert e-mail and RPM threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp telemetry.Settings
			req := UpdateSettingsRequest{AlertEmail: email, Threshold: threshold}
			if err := client.Put(cmd.Context(), "/api/usage/settings", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Alert e-mail address")
	cmd.Flags().Float64Var(&threshold, "threshold", telemetry.DefaultThreshold, "RPM usage percentage that fires an alert")
	return cmd
}

// QuotaEndpoint handles GET /api/usage/quota?user=.
type QuotaEndpoint struct{ usageGroup }

func (e *QuotaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/usage/quota", e.handler
}

func (e *QuotaEndpoint) RequiresInit() bool  { return true }
func (e *QuotaEndpoint) RequiresAdmin() bool { return true }

func (e *QuotaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	gk := svcctx.GatekeeperFrom(r.Context())
	if gk == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	u, err := gk.Usage(r.Context(), user)
	if err != nil {
		logError(r, "quota read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read quota counters")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (e *QuotaEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "quota <user>",
		Short: "Show a user's quota counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]any
			if err := client.Get(cmd.Context(), "/api/usage/quota?user="+url.QueryEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UsageWatchEndpoint is the client-only "usage watch" command. It polls
// GET /api/usage and prints only the freshest reply; the route itself is
// served by UsageStatsEndpoint.
type UsageWatchEndpoint struct{ usageGroup }

func (e *UsageWatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "", "", nil
}

func (e *UsageWatchEndpoint) RequiresInit() bool { return true }

func (e *UsageWatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll usage stats until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			poller := api.NewPoller[telemetry.Stats]()
			fetch := func(ctx context.Context) (telemetry.Stats, error) {
				var s telemetry.Stats
				err := client.Get(ctx, "/api/usage", &s)
				return s, err
			}
			poller.Watch(cmd.Context(), interval, fetch, func(s telemetry.Stats, err error) {
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						fmt.Fprintf(os.Stderr, "poll failed: %v\n", err)
					}
					return
				}
				fmt.Printf("%s  health=%s rpm=%d/%d daily=%d/%d success=%.0f%% cost=$%.4f\n",
					time.Now().Format(time.TimeOnly), s.Health, s.RPM, s.RPMLimit,
					s.DailyUsed, s.DailyLimit, s.SuccessRate, s.EstimatedCost)
			})
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval")
	return cmd
}
