// Package fixer holds the prompts for the menu spelling fixer.
package fixer

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

// Prompt keys
const (
	SystemPromptKey = "fixer.system"
	UserPromptKey   = "fixer.user"
)

// RegisterPrompts registers the fixer prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Menu fixer rules - spelling fixes in Name and Category, row count preserved",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Menu fixer request wrapping the input table",
	})
}

// UserPrompt renders the fixer request for table.
func UserPrompt(r *prompts.Resolver, table [][]string) (string, error) {
	headers, _ := json.Marshal(normalize.AISheetHeaders)
	system, err := r.Render(SystemPromptKey, struct{ Headers string }{string(headers)})
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return r.Render(UserPromptKey, struct{ System, Data string }{system, string(data)})
}
