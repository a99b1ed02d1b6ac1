package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tableSchema describes the array-of-rows document the extraction prompts ask for.
const tableSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "array",
    "items": {"type": ["string", "number", "boolean", "null"]}
  }
}`

var compiledTableSchema = jsonschema.MustCompileString("table.json", tableSchema)

// ErrNotTable is returned when the model output is JSON but not an array.
var ErrNotTable = errors.New("model output is not a JSON array")

// SchemaError reports a decoded array whose shape strays from the row schema.
// The table returned alongside it is still usable: stray values were coerced.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return "table schema: " + e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }

// DecodeTable parses model output into a Table. Markdown fences and text
// around the JSON are tolerated.
//
// The returned table is never nil. Output that does not parse, or parses to
// something other than an array, yields the single empty row [[]] together
// with an error. Nested values are coerced to strings, with non-array rows
// becoming empty rows; in that case a *SchemaError accompanies the table.
func DecodeTable(content string) (Table, error) {
	empty := Table{{}}

	raw, err := parseJSON(content)
	if err != nil {
		return empty, err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return empty, fmt.Errorf("failed to decode table: %w", err)
	}

	rows, ok := doc.([]any)
	if !ok {
		return empty, ErrNotTable
	}

	out := make(Table, 0, len(rows))
	for _, r := range rows {
		cells, ok := r.([]any)
		if !ok {
			out = append(out, []string{})
			continue
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			row[i] = cellString(c)
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		out = empty
	}

	if err := compiledTableSchema.Validate(doc); err != nil {
		return out, &SchemaError{Err: err}
	}
	return out, nil
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.Number:
		return c.String()
	case bool:
		if c {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}

// parseJSON tries the raw text, then the text inside a code fence, then the
// outermost bracketed span.
func parseJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty model output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" {
		candidates = append(candidates, stripped)
	}
	if extracted := extractBracketed(content); extracted != "" {
		candidates = append(candidates, extracted)
	}

	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}
	return nil, errors.New("failed to parse model output as JSON")
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractBracketed(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
