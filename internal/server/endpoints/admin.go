package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/auth"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// LoginRequest is the request body for POST /api/admin/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a signed admin token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginEndpoint handles POST /api/admin/login.
type LoginEndpoint struct{}

func (e *LoginEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/admin/login", e.handler
}

func (e *LoginEndpoint) RequiresInit() bool { return false }

func (e *LoginEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	am := svcctx.AuthFrom(r.Context())
	if !am.Enabled() {
		writeError(w, http.StatusNotFound, "admin login is not configured")
		return
	}

	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, expires, err := am.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
				logger.Warn("admin login rejected", "username", req.Username)
			}
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		logError(r, "admin login failed", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires})
}

func (e *LoginEndpoint) Command(getServerURL func() string) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an admin token",
		Long: `Obtain an admin token for the allow-list, stats and usage commands.

Export the printed token as TABULA_TOKEN or pass it with --token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			client := api.NewClient(getServerURL())
			var resp LoginResponse
			if err := client.Post(cmd.Context(), "/api/admin/login", LoginRequest{Username: username, Password: password}, &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatJSON {
				return api.Output(resp)
			}
			fmt.Printf("export %s=%s\n", api.TokenEnv, resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "Admin username")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (required)")
	return cmd
}
