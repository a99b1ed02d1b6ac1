package sheet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Criteria selects how rows are compared.
type Criteria string

const (
	// CriteriaRow matches rows that are identical cell for cell.
	CriteriaRow Criteria = "row"
	// CriteriaSmart matches rows on name, variation and price.
	CriteriaSmart Criteria = "smart"
)

// ParseCriteria accepts "row", "smart" and the legacy "col1".
func ParseCriteria(s string) (Criteria, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "row":
		return CriteriaRow, nil
	case "smart", "col1", "":
		return CriteriaSmart, nil
	default:
		return "", fmt.Errorf("unknown duplicate criteria %q", s)
	}
}

// DuplicateMode selects what happens to duplicate rows.
type DuplicateMode string

const (
	ModeHighlight DuplicateMode = "highlight"
	ModeRemove    DuplicateMode = "remove"
)

// ParseDuplicateMode accepts "highlight" and "remove".
func ParseDuplicateMode(s string) (DuplicateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highlight", "":
		return ModeHighlight, nil
	case "remove":
		return ModeRemove, nil
	default:
		return "", fmt.Errorf("unknown duplicate mode %q", s)
	}
}

// keyColumns locates the name, variation and price columns from the header
// row. The online display name wins over the plain name. -1 means absent.
type keyColumns struct {
	name, variation, price int
}

func detectColumns(header []string) keyColumns {
	cols := keyColumns{name: 0, variation: -1, price: -1}
	nameSet := false
	for i, h := range header {
		head := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(head, "item_online_displayname"):
			cols.name = i
			nameSet = true
		case head == "name" && !nameSet:
			cols.name = i
		}
		hasVariation := strings.Contains(head, "variation")
		hasPrice := strings.Contains(head, "price")
		if hasPrice && !hasVariation && cols.price == -1 {
			cols.price = i
		}
		if hasVariation && !hasPrice && cols.variation == -1 {
			cols.variation = i
		}
	}
	return cols
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(row[i]))
}

// FindDuplicates returns the indices of rows that repeat an earlier row.
// Row 0 is the header and is never reported. Empty rows, and in smart mode
// rows with a blank name, never match anything.
func FindDuplicates(rows [][]string, criteria Criteria) []int {
	if len(rows) == 0 {
		return nil
	}
	cols := detectColumns(rows[0])
	seen := make(map[string]bool)
	var dups []int

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		var key string
		if criteria == CriteriaRow {
			if blank(row) {
				continue
			}
			data, err := json.Marshal(row)
			if err != nil {
				continue
			}
			key = string(data)
		} else {
			name := cellAt(row, cols.name)
			if name == "" {
				continue
			}
			key = name + "|" + cellAt(row, cols.variation) + "|" + cellAt(row, cols.price)
		}

		if seen[key] {
			dups = append(dups, i)
		} else {
			seen[key] = true
		}
	}
	return dups
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

// RemoveRows returns rows without the given indices.
func RemoveRows(rows [][]string, indices []int) [][]string {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	out := make([][]string, 0, len(rows))
	for i, row := range rows {
		if !drop[i] {
			out = append(out, row)
		}
	}
	return out
}

// MarkRows returns every cell of the given rows.
func MarkRows(rows [][]string, indices []int) []Cell {
	var cells []Cell
	for _, i := range indices {
		if i <= 0 || i >= len(rows) {
			continue
		}
		for c := range rows[i] {
			cells = append(cells, Cell{Row: i, Col: c})
		}
	}
	return cells
}

// ProcessedSheetName is the sheet name of deduplicated output.
const ProcessedSheetName = "Processed Data"

// Dedupe reads the first sheet of an XLSX workbook and writes a new
// workbook with duplicates highlighted or removed. It returns the number of
// duplicate rows found.
func Dedupe(data []byte, criteria Criteria, mode DuplicateMode) ([]byte, int, error) {
	sheets, err := ReadXLSX(data)
	if err != nil {
		return nil, 0, err
	}
	var rows [][]string
	if len(sheets) > 0 {
		rows = sheets[0].Rows
	}

	dups := FindDuplicates(rows, criteria)
	out := Sheet{Name: ProcessedSheetName}
	if mode == ModeRemove {
		out.Rows = RemoveRows(rows, dups)
	} else {
		out.Rows = rows
		out.Marked = MarkRows(rows, dups)
		out.Style = DuplicateStyle
	}

	b, err := WriteXLSX(out)
	if err != nil {
		return nil, 0, err
	}
	return b, len(dups), nil
}
