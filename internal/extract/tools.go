package extract

import (
	"context"
	"net/http"
	"strings"

	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts/fixer"
	"github.com/jackzampolin/tabula/internal/prompts/summarize"
	"github.com/jackzampolin/tabula/internal/prompts/translate"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// Usage log tool names.
const (
	FixTool       = "AI Menu Fixer"
	TranslateTool = "AI Translator"
	SummarizeTool = "AI Summarizer"
)

// summaryFallback is returned when the model replies with no text.
const summaryFallback = "Summary failed."

// TableResult is the reply of the table tools.
type TableResult struct {
	Table  normalize.Table `json:"table"`
	Model  string          `json:"model,omitempty"`
	Cached bool            `json:"cached"`
}

// TableRows returns the result table.
func (r TableResult) TableRows() [][]string { return r.Table }

func invalidInput(msg string) *gatekeeper.Error {
	return &gatekeeper.Error{Kind: gatekeeper.KindInvalidInput, Message: msg}
}

// Fix corrects spelling in the Name and Category columns. Rows are padded
// to the vertical schema width; nothing is split or merged.
func (s *Service) Fix(ctx context.Context, user string, table [][]string) (*TableResult, error) {
	start := s.now()
	entry := telemetry.Entry{Tool: FixTool, FileCount: 1, FileFormats: []string{"xlsx"}}

	if len(table) == 0 {
		err := invalidInput("Empty table")
		s.recordFailure(entry, start, err)
		return nil, err
	}
	prompt, err := fixer.UserPrompt(s.prompts, table)
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}

	res, out, err := s.tableCall(ctx, user, prompt)
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}
	out = padRows(out, len(normalize.AISheetHeaders))
	entry.AccuracyScore = telemetry.Accuracy(out)
	s.recordSuccess(entry, start, res)
	return &TableResult{Table: out, Model: res.Model, Cached: res.Cached}, nil
}

// Translate translates the columns selected by scope into language.
func (s *Service) Translate(ctx context.Context, user string, table [][]string, language string, scope translate.Scope) (*TableResult, error) {
	start := s.now()
	entry := telemetry.Entry{Tool: TranslateTool, FileCount: 1, FileFormats: []string{"xlsx"}}

	language = strings.TrimSpace(language)
	switch {
	case len(table) == 0:
		err := invalidInput("Empty table")
		s.recordFailure(entry, start, err)
		return nil, err
	case language == "":
		err := invalidInput("Missing language")
		s.recordFailure(entry, start, err)
		return nil, err
	case !scope.Valid():
		err := invalidInput("Invalid scope")
		s.recordFailure(entry, start, err)
		return nil, err
	}

	prompt, err := translate.UserPrompt(s.prompts, table, language, scope)
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}
	res, out, err := s.tableCall(ctx, user, prompt)
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}
	s.recordSuccess(entry, start, res)
	return &TableResult{Table: out, Model: res.Model, Cached: res.Cached}, nil
}

// tableCall sends prompt through the gateway and decodes a table reply.
func (s *Service) tableCall(ctx context.Context, user, prompt string) (*gatekeeper.Result, normalize.Table, error) {
	res, err := s.gateway.Handle(ctx, gatekeeper.Request{Method: http.MethodPost, Prompt: prompt, User: user})
	if err != nil {
		return nil, nil, err
	}
	table, err := normalize.DecodeTable(res.Text)
	if err != nil {
		s.logger.Warn("model reply is not a table", "error", err)
	}
	return res, table, nil
}

// padRows extends every row to at least width cells.
func padRows(table normalize.Table, width int) normalize.Table {
	out := make(normalize.Table, len(table))
	for i, row := range table {
		if len(row) >= width {
			out[i] = row
			continue
		}
		padded := make([]string, width)
		copy(padded, row)
		out[i] = padded
	}
	return out
}

// Summary is a free-text document analysis.
type Summary struct {
	Text   string `json:"text"`
	Model  string `json:"model,omitempty"`
	Cached bool   `json:"cached"`
}

// Summarize analyses text and attached files.
func (s *Service) Summarize(ctx context.Context, user, text string, parts []providers.Part) (*Summary, error) {
	start := s.now()
	entry := telemetry.Entry{Tool: SummarizeTool, FileCount: 1 + len(parts), FileFormats: []string{"mixed"}}

	var all []providers.Part
	if strings.TrimSpace(text) != "" {
		all = append(all, providers.TextPart{Text: summarize.Truncate(text)})
	}
	all = append(all, parts...)
	if len(all) == 0 {
		err := invalidInput("Nothing to summarize")
		s.recordFailure(entry, start, err)
		return nil, err
	}

	instruction, err := summarize.Instruction(s.prompts)
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}
	res, err := s.gateway.Handle(ctx, gatekeeper.Request{
		Method: http.MethodPost,
		Prompt: instruction,
		Parts:  all,
		User:   user,
	})
	if err != nil {
		s.recordFailure(entry, start, err)
		return nil, err
	}
	s.recordSuccess(entry, start, res)

	out := &Summary{Text: res.Text, Model: res.Model, Cached: res.Cached}
	if strings.TrimSpace(out.Text) == "" {
		out.Text = summaryFallback
	}
	return out, nil
}
