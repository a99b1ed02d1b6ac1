// Package ocr holds the prompts for table extraction from menu documents.
package ocr

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts"
)

//go:embed ai_sheet.tmpl
var aiSheetPrompt string

//go:embed manual_sheet.tmpl
var manualSheetPrompt string

//go:embed instruction.tmpl
var instructionTmpl string

// Prompt keys
const (
	AISheetKey     = "ocr.ai_sheet"
	ManualSheetKey = "ocr.manual_sheet"
	InstructionKey = "ocr.instruction"
)

// SystemData fills the system prompts.
type SystemData struct {
	Headers string
}

// InstructionData fills the closing instruction.
type InstructionData struct {
	System   string
	DeepScan bool
	Language string
}

// RegisterPrompts registers the extraction prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         AISheetKey,
		Text:        aiSheetPrompt,
		Description: "AI sheet extraction rules - vertical variations under a parent row",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         ManualSheetKey,
		Text:        manualSheetPrompt,
		Description: "Manual sheet extraction rules - horizontal variation blocks",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         InstructionKey,
		Text:        instructionTmpl,
		Description: "Closing instruction appended after the input parts",
	})
}

func headersJSON(mode normalize.Mode) string {
	data, _ := json.Marshal(normalize.Headers(mode))
	return string(data)
}

// SystemPrompt renders the system prompt for mode.
func SystemPrompt(r *prompts.Resolver, mode normalize.Mode) (string, error) {
	key := AISheetKey
	if mode == normalize.ModeManualSheet {
		key = ManualSheetKey
	}
	return r.Render(key, SystemData{Headers: headersJSON(mode)})
}

// Instruction renders the full text part sent after the input files.
func Instruction(r *prompts.Resolver, mode normalize.Mode, language string, deepScan bool) (string, error) {
	system, err := SystemPrompt(r, mode)
	if err != nil {
		return "", err
	}
	return r.Render(InstructionKey, InstructionData{
		System:   system,
		DeepScan: deepScan,
		Language: language,
	})
}
