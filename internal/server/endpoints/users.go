package endpoints

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// normalizeEmail trims and lower-cases an address and reports whether it
// is well formed.
func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	return email, emailPattern.MatchString(email)
}

// UsersResponse lists the allow-list.
type UsersResponse struct {
	Users []string `json:"users"`
}

// UserRequest names one allow-list member.
type UserRequest struct {
	Email string `json:"email"`
}

// UserResponse acknowledges an allow-list change.
type UserResponse struct {
	OK    bool   `json:"ok"`
	Email string `json:"email"`
}

const userRequestFailed = "Unable to process user request"

// UsersEndpoint handles /api/users: GET lists, POST adds and DELETE
// removes allow-list members. Other methods get 405.
type UsersEndpoint struct{}

func (e *UsersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "", "/api/users", e.handler
}

func (e *UsersEndpoint) RequiresInit() bool  { return true }
func (e *UsersEndpoint) RequiresAdmin() bool { return true }

func (e *UsersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		e.list(w, r, st)
	case http.MethodPost:
		e.add(w, r, st)
	case http.MethodDelete:
		e.remove(w, r, st)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (e *UsersEndpoint) list(w http.ResponseWriter, r *http.Request, st store.Store) {
	users, err := st.SMembers(r.Context(), store.AllowListKey)
	if err != nil {
		logError(r, "allow-list read failed", err)
		writeError(w, http.StatusInternalServerError, userRequestFailed)
		return
	}
	if users == nil {
		users = []string{}
	}
	sort.Strings(users)
	writeJSON(w, http.StatusOK, UsersResponse{Users: users})
}

func (e *UsersEndpoint) add(w http.ResponseWriter, r *http.Request, st store.Store) {
	var req UserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	added, err := st.SAdd(r.Context(), store.AllowListKey, email)
	if err != nil {
		logError(r, "allow-list add failed", err)
		writeError(w, http.StatusInternalServerError, userRequestFailed)
		return
	}
	if added == 0 {
		writeError(w, http.StatusConflict, "Email already exists")
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{OK: true, Email: email})
}

func (e *UsersEndpoint) remove(w http.ResponseWriter, r *http.Request, st store.Store) {
	var req UserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	if _, err := st.SRem(r.Context(), store.AllowListKey, email); err != nil {
		logError(r, "allow-list remove failed", err)
		writeError(w, http.StatusInternalServerError, userRequestFailed)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{OK: true, Email: email})
}

func (e *UsersEndpoint) Command(getServerURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user allow-list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allowed users",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UsersResponse
			if err := client.Get(cmd.Context(), "/api/users", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Allow a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UserResponse
			if err := client.Post(cmd.Context(), "/api/users", UserRequest{Email: args[0]}, &resp); err != nil {
				return err
			}
			fmt.Printf("Added %s\n", resp.Email)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a user from the allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UserResponse
			if err := client.Delete(cmd.Context(), "/api/users", UserRequest{Email: args[0]}, &resp); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", resp.Email)
			return nil
		},
	})

	return cmd
}

func logError(r *http.Request, msg string, err error) {
	if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
		logger.Error(msg, "error", err)
	}
}
