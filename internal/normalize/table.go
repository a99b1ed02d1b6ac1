// Package normalize reshapes the model's raw tabular JSON into the canonical
// menu sheet schemas.
//
// Two schemas exist. The vertical (AI sheet) schema has 11 fixed columns and
// stacks variations as rows under a parent row. The horizontal (manual sheet)
// schema has 25 fixed columns followed by repeating 4-column variation blocks,
// one row per item.
//
// Normalization is a pure function of its input.
package normalize

import (
	"fmt"
	"strings"
)

// Table is an ordered sequence of rows of string cells. Row 0 is the header.
type Table [][]string

// TableRows returns the rows.
func (t Table) TableRows() [][]string { return t }

// Mode selects the output schema.
type Mode string

const (
	ModeAISheet     Mode = "ai"
	ModeManualSheet Mode = "manual"
)

// ParseMode accepts the short and long spellings of each mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ai", "aisheet", "ai_sheet", "vertical":
		return ModeAISheet, nil
	case "manual", "manualsheet", "manual_sheet", "horizontal":
		return ModeManualSheet, nil
	default:
		return "", fmt.Errorf("unknown sheet mode %q", s)
	}
}

// AISheetHeaders is the fixed vertical schema header.
var AISheetHeaders = []string{
	"Name",
	"Item_Online_DisplayName",
	"Variation_Name",
	"Price",
	"Category",
	"Category_Online_DisplayName",
	"Short_Code",
	"Short_Code_2",
	"Description",
	"Attributes",
	"Goods_Services",
}

// Vertical schema column indices.
const (
	aiName = iota
	aiOnlineName
	aiVariation
	aiPrice
	aiCategory
	aiCategoryOnline
)

// ManualFixedHeaders are the item columns (A to Y) of the horizontal schema.
var ManualFixedHeaders = []string{
	"Name",
	"Online_Name",
	"Description",
	"Short_Code",
	"Short_Code_2",
	"Sap_Code",
	"HSN_Code",
	"Parent_Category",
	"Category",
	"Category_online_display",
	"Price",
	"Attributes",
	"Goods_Services",
	"Unit",
	"is_Self_Item_Recipe",
	"minimum_stock_level",
	"at_par_stock_level",
	"Rank",
	"Packing_Charges",
	"Allow_Decimal_Qty",
	"Addon_Group_Name",
	"Addon_Group_Selection",
	"Addon_Group_Min",
	"Addon_Group_Max",
	"Variation_group_name",
}

// VariationBlockHeaders is the repeating block appended after the fixed columns.
var VariationBlockHeaders = []string{
	"Variation",
	"Variation_Price",
	"Variation_Sap_Code",
	"Variation_Packing_Charges",
}

// Horizontal schema column indices.
const (
	manualName           = 0
	manualOnlineName     = 1
	manualParentCategory = 7
	manualCategory       = 8
	manualPrice          = 10
)

// Normalize reshapes raw into the schema selected by mode.
// The result always has a header row, even when raw carries no data.
func Normalize(raw Table, mode Mode) Table {
	if mode == ModeManualSheet {
		return Horizontal(raw)
	}
	return Vertical(raw)
}

// Headers returns the header row an empty table of mode would carry.
func Headers(mode Mode) []string {
	if mode == ModeManualSheet {
		return horizontalHeader(1)
	}
	return append([]string(nil), AISheetHeaders...)
}

// fit copies row into a new slice of exactly width cells.
func fit(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// identityKey builds the normalized grouping key. ok is false when every
// component is blank: such keys never match anything.
func identityKey(fields ...string) (key string, ok bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.ToLower(strings.TrimSpace(f))
		if parts[i] != "" {
			ok = true
		}
	}
	return strings.Join(parts, "\x1f"), ok
}

// dataRows returns the rows after the model-provided header.
func dataRows(raw Table) [][]string {
	if len(raw) <= 1 {
		return nil
	}
	return raw[1:]
}
