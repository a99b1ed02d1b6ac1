// Package summarize holds the document analysis prompt.
package summarize

import (
	_ "embed"

	"github.com/jackzampolin/tabula/internal/prompts"
)

//go:embed instruction.tmpl
var instruction string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "summarize.instruction"

// MaxTextRunes bounds the document text sent with the instruction.
const MaxTextRunes = 15000

// RegisterPrompts registers the summary prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        instruction,
		Description: "Document analysis instruction - pricing, trends and dish composition",
	})
}

// Instruction renders the analysis instruction.
func Instruction(r *prompts.Resolver) (string, error) {
	return r.Render(PromptKey, nil)
}

// Truncate cuts text to MaxTextRunes runes.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTextRunes {
		return text
	}
	return string(runes[:MaxTextRunes])
}
