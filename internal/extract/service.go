// Package extract runs the AI table tools: document-to-table extraction,
// spelling fixes, translation and document summaries. Every tool goes
// through the gateway and records one usage entry per call.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts"
	"github.com/jackzampolin/tabula/internal/prompts/ocr"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// DefaultLanguage is used when a request names none.
const DefaultLanguage = "English"

// Gateway admits and answers model requests. *gatekeeper.Gatekeeper
// implements it.
type Gateway interface {
	Handle(ctx context.Context, req gatekeeper.Request) (*gatekeeper.Result, error)
}

// Config configures a Service.
type Config struct {
	Gateway Gateway
	Prompts *prompts.Resolver
	// Usage receives one entry per tool call. Optional.
	Usage  *telemetry.Log
	Now    func() time.Time
	Logger *slog.Logger
}

// Service runs the AI tools.
type Service struct {
	gateway Gateway
	prompts *prompts.Resolver
	usage   *telemetry.Log
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		gateway: cfg.Gateway,
		prompts: cfg.Prompts,
		usage:   cfg.Usage,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Request is an extraction request.
type Request struct {
	User     string
	Parts    []providers.Part
	Mode     normalize.Mode
	Language string
	DeepScan bool
}

// Extraction is a normalized table extracted from the request's files.
type Extraction struct {
	Table    normalize.Table `json:"table"`
	Mode     normalize.Mode  `json:"mode"`
	Model    string          `json:"model,omitempty"`
	Cached   bool            `json:"cached"`
	Accuracy int             `json:"accuracy"`
	Pages    int             `json:"pages,omitempty"`
}

// TableRows returns the extracted table.
func (e Extraction) TableRows() [][]string { return e.Table }

// ExtractTool is the usage log tool name for an extraction in mode.
func ExtractTool(mode normalize.Mode) string {
	return fmt.Sprintf("AI OCR to Excel (%s)", mode)
}

// Extract reads the menu in req.Parts into a canonical table. A model
// reply that is not a table yields a header-only table, never an error.
func (s *Service) Extract(ctx context.Context, req Request) (*Extraction, error) {
	mode := req.Mode
	if mode == "" {
		mode = normalize.ModeAISheet
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = DefaultLanguage
	}

	start := s.now()
	entry := telemetry.Entry{Tool: ExtractTool(mode), FileCount: len(req.Parts)}

	if len(req.Parts) == 0 {
		err := &gatekeeper.Error{Kind: gatekeeper.KindInvalidInput, Message: "No files provided"}
		s.recordFailure(entry, start, err)
		return nil, err
	}

	parts, info, err := s.prepareParts(req.Parts)
	entry.FileFormats = info.formats
	if err != nil {
		gerr := &gatekeeper.Error{Kind: gatekeeper.KindInvalidInput, Message: "Unreadable spreadsheet", Cause: err}
		s.recordFailure(entry, start, gerr)
		return nil, gerr
	}

	instruction, err := ocr.Instruction(s.prompts, mode, language, req.DeepScan)
	if err != nil {
		gerr := &gatekeeper.Error{Kind: gatekeeper.KindInternal, Message: "Prompt unavailable", Cause: err}
		s.recordFailure(entry, start, gerr)
		return nil, gerr
	}

	res, err := s.gateway.Handle(ctx, gatekeeper.Request{
		Method: http.MethodPost,
		Prompt: instruction,
		Parts:  parts,
		User:   req.User,
	})
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}

	raw, derr := normalize.DecodeTable(res.Text)
	if derr != nil {
		s.logger.Warn("model reply is not a table", "tool", entry.Tool, "error", derr)
	}
	table := normalize.Normalize(raw, mode)

	out := &Extraction{
		Table:    table,
		Mode:     mode,
		Model:    res.Model,
		Cached:   res.Cached,
		Accuracy: telemetry.Accuracy(table),
		Pages:    info.pages,
	}
	entry.AccuracyScore = out.Accuracy
	s.recordSuccess(entry, start, res)
	s.logger.Info("extraction complete",
		"mode", mode, "rows", len(table)-1, "files", len(req.Parts), "pages", info.pages,
		"cached", res.Cached, "accuracy", out.Accuracy)
	return out, nil
}

func (s *Service) recordSuccess(e telemetry.Entry, start time.Time, res *gatekeeper.Result) {
	if s.usage == nil {
		return
	}
	e.Status = telemetry.StatusSuccess
	e.Model = res.Model
	if res.Cached {
		e.Model = "cache"
	}
	e.InputTokens = res.Usage.InputTokens
	e.OutputTokens = res.Usage.OutputTokens
	e.LatencyMs = s.now().Sub(start).Milliseconds()
	s.usage.Record(e)
}

func (s *Service) recordFailure(e telemetry.Entry, start time.Time, err error) {
	if s.usage == nil {
		return
	}
	e.Failed(err)
	if e.Model == "" {
		e.Model = "N/A"
	}
	e.LatencyMs = s.now().Sub(start).Milliseconds()
	s.usage.Record(e)
}
