package prompts

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"text/template"
)

type entry struct {
	prompt   EmbeddedPrompt
	tmpl     *template.Template
	override *override
}

type override struct {
	text string
	hash string
	tmpl *template.Template
}

// Resolver holds the registered prompts and any configured overrides.
type Resolver struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewResolver creates an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register registers an embedded prompt. It panics if the embedded text
// does not parse, since that is a build defect.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}
	t := template.Must(parse(prompt.Key, prompt.Text))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[prompt.Key] = &entry{prompt: prompt, tmpl: t}
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// SetOverrides replaces all overrides. Every key must be registered and
// every text must parse; on error no override is changed.
func (r *Resolver) SetOverrides(overrides map[string]string) error {
	parsed := make(map[string]*override, len(overrides))

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, text := range overrides {
		if _, ok := r.entries[key]; !ok {
			return fmt.Errorf("override for unknown prompt: %s", key)
		}
		t, err := parse(key, text)
		if err != nil {
			return err
		}
		parsed[key] = &override{text: text, hash: HashText(text), tmpl: t}
	}
	for key, e := range r.entries {
		e.override = parsed[key]
	}
	if len(parsed) > 0 {
		r.logger.Info("prompt overrides applied", "count", len(parsed))
	}
	return nil
}

// Resolve returns the prompt in effect for key.
func (r *Resolver) Resolve(key string) (*ResolvedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", key)
	}
	return e.resolved(), nil
}

func (e *entry) resolved() *ResolvedPrompt {
	p := &ResolvedPrompt{
		Key:         e.prompt.Key,
		Text:        e.prompt.Text,
		Description: e.prompt.Description,
		Variables:   e.prompt.Variables,
		Hash:        e.prompt.Hash,
	}
	if e.override != nil {
		p.Text = e.override.text
		p.Variables = ExtractVariables(e.override.text)
		p.Hash = e.override.hash
		p.IsOverride = true
	}
	return p
}

// Render executes the prompt in effect for key with data.
func (r *Resolver) Render(key string, data any) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	var t *template.Template
	if ok {
		t = e.tmpl
		if e.override != nil {
			t = e.override.tmpl
		}
	}
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("prompt not found: %s", key)
	}
	return execute(t, data)
}

// All returns every registered prompt as resolved, sorted by key.
func (r *Resolver) All() []ResolvedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResolvedPrompt, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e.resolved())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
