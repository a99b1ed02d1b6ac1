// Package sheet reads and writes XLSX workbooks and implements the offline
// spreadsheet tools: cell cleaning and duplicate detection.
package sheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of XLSX documents.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Cell addresses one cell by zero-based row and column.
type Cell struct {
	Row int
	Col int
}

// Style is a highlight applied to marked cells.
type Style struct {
	Fill      string // RGB hex background
	FontColor string // RGB hex text colour
	Bold      bool
}

var (
	// ChangedStyle marks cells altered by cleaning.
	ChangedStyle = Style{Fill: "FFFF00", FontColor: "C2410C", Bold: true}
	// DuplicateStyle marks duplicate rows.
	DuplicateStyle = Style{Fill: "FFFF00", FontColor: "991B1B", Bold: true}
)

func (s Style) excelize() *excelize.Style {
	thin := func(side string) excelize.Border {
		return excelize.Border{Type: side, Color: "000000", Style: 1}
	}
	return &excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{s.Fill}},
		Font: &excelize.Font{Bold: s.Bold, Color: s.FontColor},
		Border: []excelize.Border{
			thin("left"), thin("top"), thin("right"), thin("bottom"),
		},
	}
}

// Sheet is one worksheet.
type Sheet struct {
	Name string
	Rows [][]string

	// Marked cells are written with Style.
	Marked []Cell
	Style  Style
}

// ReadXLSX returns every worksheet in the workbook, in workbook order.
func ReadXLSX(data []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsx open: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("xlsx read %s: %w", name, err)
		}
		sheets = append(sheets, Sheet{Name: name, Rows: rows})
	}
	return sheets, nil
}

// WriteXLSX builds a workbook from sheets. Unnamed sheets get Sheet<n>.
func WriteXLSX(sheets ...Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		sheets = []Sheet{{Name: "Sheet1"}}
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("xlsx sheet name %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("xlsx new sheet %q: %w", name, err)
		}

		for r, row := range s.Rows {
			if len(row) == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return nil, err
			}
			values := make([]any, len(row))
			for c, v := range row {
				values[c] = v
			}
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return nil, fmt.Errorf("xlsx write row %d: %w", r+1, err)
			}
		}

		if len(s.Marked) > 0 {
			styleID, err := f.NewStyle(s.Style.excelize())
			if err != nil {
				return nil, fmt.Errorf("xlsx style: %w", err)
			}
			for _, c := range s.Marked {
				ref, err := excelize.CoordinatesToCellName(c.Col+1, c.Row+1)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellStyle(name, ref, ref, styleID); err != nil {
					return nil, fmt.Errorf("xlsx style %s: %w", ref, err)
				}
			}
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTable writes a single-sheet workbook.
func WriteTable(table [][]string, sheetName string) ([]byte, error) {
	return WriteXLSX(Sheet{Name: sheetName, Rows: table})
}

// Text renders sheets as labelled JSON grids, the form spreadsheets are
// given to the model in.
func Text(sheets []Sheet) string {
	var b strings.Builder
	for _, s := range sheets {
		rows := s.Rows
		if rows == nil {
			rows = [][]string{}
		}
		data, err := json.Marshal(rows)
		if err != nil {
			data = []byte("[]")
		}
		fmt.Fprintf(&b, "SHEET: %s\n%s\n\n", s.Name, data)
	}
	return b.String()
}
