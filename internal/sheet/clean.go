package sheet

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanCell decomposes s, drops combining marks and question marks (OCR and
// encoding debris), keeps printable ASCII only and trims the result.
func CleanCell(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}
	out := strings.Map(func(r rune) rune {
		if r == '?' || r < 0x20 || r > 0x7E {
			return -1
		}
		return r
	}, decomposed)
	return strings.TrimSpace(out)
}

// CleanSheet cleans every cell of s and marks the cells that changed.
func CleanSheet(s Sheet) Sheet {
	out := Sheet{Name: s.Name, Rows: make([][]string, len(s.Rows)), Style: ChangedStyle}
	for r, row := range s.Rows {
		cleaned := make([]string, len(row))
		for c, v := range row {
			cleaned[c] = CleanCell(v)
			if cleaned[c] != v {
				out.Marked = append(out.Marked, Cell{Row: r, Col: c})
			}
		}
		out.Rows[r] = cleaned
	}
	return out
}

// Clean cleans every sheet of an XLSX workbook and returns the rewritten
// workbook with changed cells highlighted, plus the number of changes.
func Clean(data []byte) ([]byte, int, error) {
	sheets, err := ReadXLSX(data)
	if err != nil {
		return nil, 0, err
	}
	changed := 0
	for i := range sheets {
		sheets[i] = CleanSheet(sheets[i])
		changed += len(sheets[i].Marked)
	}
	out, err := WriteXLSX(sheets...)
	if err != nil {
		return nil, 0, err
	}
	return out, changed, nil
}
