package providers

import "strings"

// DefaultModel is used when no primary model is configured.
const DefaultModel = "gemini-2.0-flash"

// deprecatedAliases maps retired model ids to their replacement.
var deprecatedAliases = map[string]string{
	"gemini-1.5-flash-latest": "gemini-2.0-flash",
	"gemini-1.5-flash":        "gemini-2.0-flash",
	"gemini-pro":              "gemini-2.0-flash",
}

// ResolveModel rewrites a deprecated model alias to its current id.
func ResolveModel(model string) string {
	model = strings.TrimSpace(model)
	if r, ok := deprecatedAliases[model]; ok {
		return r
	}
	if strings.HasPrefix(model, "gemini-1.5-pro") {
		return "gemini-2.5-pro"
	}
	return model
}

// Candidates builds the ordered model fallback chain: the primary model
// followed by the fallbacks, aliases rewritten, blanks and duplicates dropped.
// The result is never empty.
func Candidates(primary string, fallbacks []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		m = ResolveModel(m)
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}

	if strings.TrimSpace(primary) == "" {
		primary = DefaultModel
	}
	add(primary)
	for _, f := range fallbacks {
		add(f)
	}
	return out
}

// SplitModelList parses a comma-separated model list.
func SplitModelList(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
