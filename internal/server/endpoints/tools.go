package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/extract"
	"github.com/jackzampolin/tabula/internal/prompts/translate"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/sheet"
	"github.com/jackzampolin/tabula/internal/svcctx"
)

// FixRequest is the request body for POST /api/fix.
type FixRequest struct {
	User  string     `json:"user,omitempty"`
	Table [][]string `json:"table"`
}

// TranslateRequest is the request body for POST /api/translate.
type TranslateRequest struct {
	User     string     `json:"user,omitempty"`
	Table    [][]string `json:"table"`
	Language string     `json:"language"`
	Scope    string     `json:"scope,omitempty"`
}

// SummarizeRequest is the request body for POST /api/summarize.
type SummarizeRequest struct {
	User  string          `json:"user,omitempty"`
	Text  string          `json:"text,omitempty"`
	Parts providers.Parts `json:"parts,omitempty"`
}

// FixEndpoint handles POST /api/fix.
type FixEndpoint struct{}

func (e *FixEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/fix", e.handler
}

func (e *FixEndpoint) RequiresInit() bool { return true }

func (e *FixEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ExtractFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "extract service not initialized")
		return
	}
	var req FixRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := svc.Fix(r.Context(), req.User, req.Table)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		writeWorkbook(w, r, res.Table, "Fixed", "fixed.xlsx")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *FixEndpoint) Command(getServerURL func() string) *cobra.Command {
	var user, out string
	cmd := &cobra.Command{
		Use:   "fix <workbook.xlsx>",
		Short: "Fix spelling in the first sheet of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := readFirstSheet(args[0])
			if err != nil {
				return err
			}
			return postTable(cmd, api.NewClient(getServerURL()), "/api/fix", FixRequest{User: user, Table: table}, out)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write an XLSX workbook to this path instead of printing")
	return cmd
}

// TranslateEndpoint handles POST /api/translate.
type TranslateEndpoint struct{}

func (e *TranslateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/translate", e.handler
}

func (e *TranslateEndpoint) RequiresInit() bool { return true }

func (e *TranslateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ExtractFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "extract service not initialized")
		return
	}
	var req TranslateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scope := translate.Scope(req.Scope)
	if scope == "" {
		scope = translate.ScopeBoth
	}

	res, err := svc.Translate(r.Context(), req.User, req.Table, req.Language, scope)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		writeWorkbook(w, r, res.Table, "Translated", "translated.xlsx")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *TranslateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var user, language, scope, out string
	cmd := &cobra.Command{
		Use:   "translate <workbook.xlsx>",
		Short: "Translate names and categories in the first sheet of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if language == "" {
				return fmt.Errorf("--language is required")
			}
			table, err := readFirstSheet(args[0])
			if err != nil {
				return err
			}
			req := TranslateRequest{User: user, Table: table, Language: language, Scope: scope}
			return postTable(cmd, api.NewClient(getServerURL()), "/api/translate", req, out)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	cmd.Flags().StringVar(&language, "language", "", "Target language (required)")
	cmd.Flags().StringVar(&scope, "scope", string(translate.ScopeBoth), "Columns to translate: names, categories or both")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write an XLSX workbook to this path instead of printing")
	return cmd
}

// SummarizeEndpoint handles POST /api/summarize.
type SummarizeEndpoint struct{}

func (e *SummarizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/summarize", e.handler
}

func (e *SummarizeEndpoint) RequiresInit() bool { return true }

func (e *SummarizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ExtractFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "extract service not initialized")
		return
	}
	var req SummarizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := svc.Summarize(r.Context(), req.User, req.Text, req.Parts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *SummarizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var user, text string
	cmd := &cobra.Command{
		Use:   "summarize [file]...",
		Short: "Summarize text and attached documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := readFileParts(args)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp extract.Summary
			req := SummarizeRequest{User: user, Text: text, Parts: parts}
			if err := client.Post(cmd.Context(), "/api/summarize", req, &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatYAML {
				fmt.Println(resp.Text)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	cmd.Flags().StringVar(&text, "text", "", "Text to summarize")
	return cmd
}

func readFirstSheet(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	sheets, err := sheet.ReadXLSX(data)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s has no sheets", path)
	}
	return sheets[0].Rows, nil
}

// postTable posts a table tool request, writing an XLSX file when out is
// set and printing the reply otherwise.
func postTable(cmd *cobra.Command, client *api.Client, path string, req any, out string) error {
	if out != "" {
		data, err := client.PostRaw(cmd.Context(), path+"?format=xlsx", req)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Printf("Wrote %s\n", out)
		return nil
	}
	var resp extract.TableResult
	if err := client.Post(cmd.Context(), path, req, &resp); err != nil {
		return err
	}
	return api.Output(resp)
}
