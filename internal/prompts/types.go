// Package prompts manages the embedded prompt templates sent to the model.
//
// Embedded .tmpl files in the per-tool subpackages are the defaults. A
// deployment may override any registered key from configuration; the
// override must parse as a template and is reported with its own hash so
// usage can be traced to the exact prompt text.
//
// Resolution order:
//  1. Configured override for the key, if any
//  2. Embedded default
package prompts

// EmbeddedPrompt is a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: extract.ai_sheet
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the text actually in effect for a key.
type ResolvedPrompt struct {
	Key         string   `json:"key"`
	Text        string   `json:"text"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`
	IsOverride  bool     `json:"is_override"`
}
