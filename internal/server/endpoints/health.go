package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// MaxBodyBytes bounds JSON request bodies. Inline payload limits are
// enforced separately by the gateway.
const MaxBodyBytes = 32 << 20

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		resp.Status = "degraded"
		resp.Store = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if err := st.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			if resp.Store != "" {
				fmt.Printf("Store:  %s\n", resp.Store)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string          `json:"server"`
	Providers ProvidersStatus `json:"providers"`
	Store     StoreStatus     `json:"store"`
	Gateway   GatewayStatus   `json:"gateway"`
	Usage     UsageStatus     `json:"usage"`
}

// ProvidersStatus shows registered model clients and the candidate chain.
type ProvidersStatus struct {
	Clients []string `json:"clients"`
	Models  []string `json:"models"`
}

// StoreStatus shows the store backend and, for --docker-redis, its container.
type StoreStatus struct {
	Backend   string `json:"backend"`
	Health    string `json:"health"`
	Container string `json:"container,omitempty"`
	URL       string `json:"url,omitempty"`
}

// GatewayStatus shows the admission policy in effect.
type GatewayStatus struct {
	AllowList bool              `json:"allow_list"`
	Limits    gatekeeper.Limits `json:"limits"`
}

// UsageStatus shows the usage log state.
type UsageStatus struct {
	Entries   int  `json:"entries"`
	Persisted bool `json:"persisted"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// DockerManager is set by server when it runs a local Redis container.
	DockerManager *store.DockerManager
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Server: "running"}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Providers.Clients = registry.List()
	}
	if inv := svcctx.InvokerFrom(ctx); inv != nil {
		resp.Providers.Models = inv.Models()
	}

	st := svcctx.StoreFrom(ctx)
	switch st.(type) {
	case nil:
		resp.Store.Backend = "not_initialized"
	case *store.RedisStore:
		resp.Store.Backend = "redis"
	default:
		resp.Store.Backend = "memory"
	}
	if st != nil {
		if err := st.Ping(ctx); err != nil {
			resp.Store.Health = "unhealthy"
		} else {
			resp.Store.Health = "healthy"
		}
	} else {
		resp.Store.Health = "not_initialized"
	}

	if e.DockerManager != nil {
		status, err := e.DockerManager.Status(ctx)
		if err != nil {
			resp.Store.Container = "error"
		} else {
			resp.Store.Container = string(status)
		}
		resp.Store.URL = e.DockerManager.URL()
	}

	if gk := svcctx.GatekeeperFrom(ctx); gk != nil {
		resp.Gateway.AllowList = gk.AllowList()
		resp.Gateway.Limits = gk.Limits()
	}
	if usage := svcctx.UsageFrom(ctx); usage != nil {
		resp.Usage.Entries = usage.Len()
	}
	resp.Usage.Persisted = svcctx.UsageStoreFrom(ctx) != nil

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeGatewayError writes the status and client-safe message of a
// classified gateway error.
func writeGatewayError(w http.ResponseWriter, err error) {
	status, msg := gatekeeper.StatusOf(err)
	writeError(w, status, msg)
}

// decodeBody reads a size-bounded JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
