// Package translate holds the table translation prompt.
package translate

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/tabula/internal/prompts"
)

//go:embed user.tmpl
var userPromptTmpl string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "translate.user"

// Scope limits which columns are translated.
type Scope string

const (
	ScopeNames      Scope = "names"
	ScopeCategories Scope = "categories"
	ScopeBoth       Scope = "both"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeNames || s == ScopeCategories || s == ScopeBoth
}

// RegisterPrompts registers the translation prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        userPromptTmpl,
		Description: "Table translation request",
	})
}

// UserPrompt renders the translation request.
func UserPrompt(r *prompts.Resolver, table [][]string, language string, scope Scope) (string, error) {
	data, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return r.Render(PromptKey, struct {
		Language string
		Scope    Scope
		Data     string
	}{language, scope, string(data)})
}
