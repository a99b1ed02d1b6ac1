package sheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Café", "Cafe"},
		{"Crème Brûlée", "Creme Brulee"},
		{"Paneer ?? Tikka", "Paneer  Tikka"},
		{"  Dal Makhani  ", "Dal Makhani"},
		{"Tea\u00a0Masala", "TeaMasala"},
		{"Price ₹120", "Price 120"},
		{"Line\tbreak", "Linebreak"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCell(tt.in))
		})
	}
}

func TestCleanSheet_MarksChanges(t *testing.T) {
	s := CleanSheet(Sheet{Name: "Menu", Rows: [][]string{
		{"Name", "Price"},
		{"Café", "100"},
		{"Tea", "?50"},
	}})
	assert.Equal(t, [][]string{{"Name", "Price"}, {"Cafe", "100"}, {"Tea", "50"}}, s.Rows)
	assert.Equal(t, []Cell{{Row: 1, Col: 0}, {Row: 2, Col: 1}}, s.Marked)
	assert.Equal(t, ChangedStyle, s.Style)
}

func TestWriteReadXLSX(t *testing.T) {
	data, err := WriteXLSX(
		Sheet{Name: "Menu", Rows: [][]string{{"Name", "Price"}, {"Tea", "20"}},
			Marked: []Cell{{Row: 1, Col: 0}}, Style: DuplicateStyle},
		Sheet{Rows: [][]string{{"x"}}},
	)
	require.NoError(t, err)

	sheets, err := ReadXLSX(data)
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, "Menu", sheets[0].Name)
	assert.Equal(t, [][]string{{"Name", "Price"}, {"Tea", "20"}}, sheets[0].Rows)
	assert.Equal(t, "Sheet2", sheets[1].Name)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	styled, err := f.GetCellStyle("Menu", "A2")
	require.NoError(t, err)
	plain, err := f.GetCellStyle("Menu", "B2")
	require.NoError(t, err)
	assert.NotEqual(t, plain, styled)
}

func TestReadXLSX_Invalid(t *testing.T) {
	_, err := ReadXLSX([]byte("not a workbook"))
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	got := Text([]Sheet{
		{Name: "Food", Rows: [][]string{{"Name"}, {"Tea"}}},
		{Name: "Empty"},
	})
	assert.Equal(t, "SHEET: Food\n[[\"Name\"],[\"Tea\"]]\n\nSHEET: Empty\n[]\n\n", got)
}

func TestFindDuplicates(t *testing.T) {
	header := []string{"Name", "Item_Online_DisplayName", "Variation_Name", "Price"}

	t.Run("smart uses online name, variation and price", func(t *testing.T) {
		rows := [][]string{
			header,
			{"x", "Coffee", "Hot", "100"},
			{"y", "coffee ", "hot", "100"},
			{"z", "Coffee", "Cold", "100"},
			{"w", "Coffee", "Hot", "120"},
		}
		assert.Equal(t, []int{2}, FindDuplicates(rows, CriteriaSmart))
	})

	t.Run("smart skips blank names", func(t *testing.T) {
		rows := [][]string{
			header,
			{"a", "", "", "0"},
			{"b", "", "", "0"},
		}
		assert.Empty(t, FindDuplicates(rows, CriteriaSmart))
	})

	t.Run("row needs every cell equal", func(t *testing.T) {
		rows := [][]string{
			header,
			{"Tea", "Tea", "", "20"},
			{"Tea", "Tea", "", "20"},
			{"Tea", "Tea", "", "25"},
			{},
			{},
		}
		assert.Equal(t, []int{2}, FindDuplicates(rows, CriteriaRow))
	})

	t.Run("header is never a duplicate", func(t *testing.T) {
		rows := [][]string{{"Name"}, {"Name"}, {"Name"}}
		assert.Equal(t, []int{2}, FindDuplicates(rows, CriteriaRow))
	})

	t.Run("horizontal headers pick the item price", func(t *testing.T) {
		cols := detectColumns([]string{"Name", "Online_Name", "Price", "Variation", "Variation_Price"})
		assert.Equal(t, keyColumns{name: 0, variation: 3, price: 2}, cols)
	})
}

func TestRemoveAndMarkRows(t *testing.T) {
	rows := [][]string{{"h1", "h2"}, {"a", "b"}, {"a", "b"}, {"c"}}
	assert.Equal(t, [][]string{{"h1", "h2"}, {"a", "b"}, {"c"}}, RemoveRows(rows, []int{2}))
	assert.Equal(t, []Cell{{Row: 2, Col: 0}, {Row: 2, Col: 1}}, MarkRows(rows, []int{0, 2, 9}))
}

func TestDedupe(t *testing.T) {
	in, err := WriteTable([][]string{
		{"Name", "Price"},
		{"Tea", "20"},
		{"tea", "20"},
		{"Coffee", "30"},
	}, "Input")
	require.NoError(t, err)

	out, n, err := Dedupe(in, CriteriaSmart, ModeRemove)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	sheets, err := ReadXLSX(out)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, ProcessedSheetName, sheets[0].Name)
	assert.Equal(t, [][]string{{"Name", "Price"}, {"Tea", "20"}, {"Coffee", "30"}}, sheets[0].Rows)

	out, n, err = Dedupe(in, CriteriaRow, ModeHighlight)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	sheets, err = ReadXLSX(out)
	require.NoError(t, err)
	assert.Len(t, sheets[0].Rows, 4)
}

func TestClean(t *testing.T) {
	in, err := WriteXLSX(
		Sheet{Name: "A", Rows: [][]string{{"Café"}, {"ok"}}},
		Sheet{Name: "B", Rows: [][]string{{"?? x"}}},
	)
	require.NoError(t, err)

	out, changed, err := Clean(in)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	sheets, err := ReadXLSX(out)
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, [][]string{{"Cafe"}, {"ok"}}, sheets[0].Rows)
	assert.Equal(t, [][]string{{"x"}}, sheets[1].Rows)
}

func TestParseOptions(t *testing.T) {
	c, err := ParseCriteria("col1")
	require.NoError(t, err)
	assert.Equal(t, CriteriaSmart, c)
	c, err = ParseCriteria("ROW")
	require.NoError(t, err)
	assert.Equal(t, CriteriaRow, c)
	_, err = ParseCriteria("fuzzy")
	assert.Error(t, err)

	m, err := ParseDuplicateMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHighlight, m)
	m, err = ParseDuplicateMode("remove")
	require.NoError(t, err)
	assert.Equal(t, ModeRemove, m)
	_, err = ParseDuplicateMode("delete")
	assert.Error(t, err)
}
