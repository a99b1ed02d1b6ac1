package endpoints

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/extract"
	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/sheet"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// ExtractRequest is the request body for POST /api/extract.
type ExtractRequest struct {
	User     string          `json:"user,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Parts    providers.Parts `json:"parts"`
	Mode     string          `json:"mode,omitempty"`
	Language string          `json:"language,omitempty"`
	DeepScan bool            `json:"deep_scan,omitempty"`
}

// ExtractEndpoint handles POST /api/extract.
type ExtractEndpoint struct{}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ExtractFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "extract service not initialized")
		return
	}

	var req ExtractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := normalize.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := req.User
	if user == "" {
		user = req.UserID
	}

	res, err := svc.Extract(r.Context(), extract.Request{
		User:     user,
		Parts:    req.Parts,
		Mode:     mode,
		Language: req.Language,
		DeepScan: req.DeepScan,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		writeWorkbook(w, r, res.Table, "Menu", "menu.xlsx")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var user, mode, language, out string
	var deepScan bool
	cmd := &cobra.Command{
		Use:   "extract <file>...",
		Short: "Extract a menu table from images, PDFs or spreadsheets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := readFileParts(args)
			if err != nil {
				return err
			}
			req := ExtractRequest{User: user, Parts: parts, Mode: mode, Language: language, DeepScan: deepScan}
			client := api.NewClient(getServerURL())

			if out != "" {
				data, err := client.PostRaw(cmd.Context(), "/api/extract?format=xlsx", req)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			}

			var resp extract.Extraction
			if err := client.Post(cmd.Context(), "/api/extract", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	cmd.Flags().StringVar(&mode, "mode", "ai", "Output schema: ai (vertical) or manual (horizontal)")
	cmd.Flags().StringVar(&language, "language", "", "Output language (default English)")
	cmd.Flags().BoolVar(&deepScan, "deep-scan", false, "Ask the model to re-check every row")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write an XLSX workbook to this path instead of printing")
	return cmd
}

// writeWorkbook streams table as an XLSX attachment.
func writeWorkbook(w http.ResponseWriter, r *http.Request, table [][]string, sheetName, filename string) {
	data, err := sheet.WriteTable(table, sheetName)
	if err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("failed to write workbook", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "failed to write workbook")
		return
	}
	w.Header().Set("Content-Type", sheet.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// knownTypes covers extensions whose MIME type is not reliably registered
// with the platform.
var knownTypes = map[string]string{
	".xlsx": sheet.ContentType,
	".xls":  "application/vnd.ms-excel",
	".pdf":  "application/pdf",
	".webp": "image/webp",
	".heic": "image/heic",
}

// mimeTypeOf picks a MIME type from the file extension, falling back to
// content sniffing.
func mimeTypeOf(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return http.DetectContentType(data)
}
