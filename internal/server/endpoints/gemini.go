package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// GeminiRequest is the gateway proxy request body. UserID is accepted as
// an alias of User.
type GeminiRequest struct {
	Prompt string          `json:"prompt"`
	Parts  providers.Parts `json:"parts,omitempty"`
	User   string          `json:"user,omitempty"`
	UserID string          `json:"userId,omitempty"`
}

func (r GeminiRequest) user() string {
	if r.User != "" {
		return r.User
	}
	return r.UserID
}

// GeminiEndpoint handles /api/gemini. It is registered for every method so
// the gateway itself answers non-POST requests with 405.
type GeminiEndpoint struct{}

func (e *GeminiEndpoint) Route() (string, string, http.HandlerFunc) {
	return "", "/api/gemini", e.handler
}

func (e *GeminiEndpoint) RequiresInit() bool { return true }

func (e *GeminiEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	gk := svcctx.GatekeeperFrom(r.Context())
	if gk == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}

	if r.Method != http.MethodPost {
		_, err := gk.Handle(r.Context(), gatekeeper.Request{Method: r.Method})
		writeGatewayError(w, err)
		return
	}

	var req GeminiRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := gk.Handle(r.Context(), gatekeeper.Request{
		Method: r.Method,
		Prompt: req.Prompt,
		Parts:  req.Parts,
		User:   req.user(),
	})
	if err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Warn("gateway request failed", "error", err)
		}
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *GeminiEndpoint) Command(getServerURL func() string) *cobra.Command {
	var user string
	var files []string
	cmd := &cobra.Command{
		Use:   "gemini <prompt>",
		Short: "Send a prompt through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := readFileParts(files)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp gatekeeper.Result
			req := GeminiRequest{Prompt: args[0], Parts: parts, User: user}
			if err := client.Post(cmd.Context(), "/api/gemini", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity (required on allow-list deployments)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "Attach a file as an inline part (repeatable)")
	return cmd
}

// readFileParts loads files as inline parts, detecting each MIME type from
// its content.
func readFileParts(paths []string) (providers.Parts, error) {
	parts := make(providers.Parts, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		parts = append(parts, providers.NewInlinePart(data, mimeTypeOf(p, data)))
	}
	return parts, nil
}
