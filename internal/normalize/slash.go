package normalize

import (
	"regexp"
	"strings"
)

var (
	slashSpacing = regexp.MustCompile(`\s*/\s*`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// SplitSlashName splits an item name such as "Coffee Hot/Cold" into its base
// word and variation labels ("Coffee", ["Hot", "Cold"]).
//
// The base is the first word of the first slash segment. The base prefix is
// stripped from every segment, segments equal to the base are dropped and the
// rest are de-duplicated case-insensitively. ok is false when the name has no
// slash or nothing survives.
func SplitSlashName(name string) (base string, variations []string, ok bool) {
	if !strings.Contains(name, "/") {
		return "", nil, false
	}

	var parts []string
	for _, p := range strings.Split(slashSpacing.ReplaceAllString(name, "/"), "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", nil, false
	}

	first := whitespace.Split(parts[0], -1)
	base = first[0]
	if base == "" {
		return "", nil, false
	}
	prefix := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(base) + `\s+`)

	seen := make(map[string]bool)
	for _, p := range parts {
		v := strings.TrimSpace(prefix.ReplaceAllString(p, ""))
		if v == "" || strings.EqualFold(v, base) {
			continue
		}
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		variations = append(variations, v)
	}
	if len(variations) == 0 {
		return "", nil, false
	}
	return base, variations, true
}

// splitOnlineName returns the online display name to keep after a slash split.
// A blank or slash-bearing online name is replaced by the base.
func splitOnlineName(online, base string) string {
	if blank(online) || strings.Contains(online, "/") {
		return base
	}
	return online
}
