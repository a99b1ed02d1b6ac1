package normalize

import "strings"

const blockLen = 4

// horizontalGroup is one output row: merged base columns plus unique blocks.
type horizontalGroup struct {
	base     []string
	blocks   [][]string
	seen     map[string]bool
	isolated bool
}

// Horizontal normalizes raw into the manual sheet schema.
//
// Rows are grouped by (name, online name, parent category, category). Later
// rows fill blank base columns of the first row and contribute their variation
// blocks, de-duplicated by content. An item that ends up with blocks gets base
// price "0". The header grows one block group per block of the widest item,
// and every row is padded to the header width.
func Horizontal(raw Table) Table {
	fixedLen := len(ManualFixedHeaders)

	var groups []*horizontalGroup
	index := make(map[string]*horizontalGroup)

	for _, src := range dataRows(raw) {
		row := src
		if len(row) < fixedLen+blockLen {
			row = fit(src, fixedLen+blockLen)
		}
		base := fit(row[:fixedLen], fixedLen)

		key, ok := identityKey(base[manualName], base[manualOnlineName], base[manualParentCategory], base[manualCategory])
		if blank(base[manualName]) || !ok {
			groups = append(groups, &horizontalGroup{
				base:     base,
				blocks:   readBlocks(row[fixedLen:], ""),
				isolated: true,
			})
			continue
		}

		g, exists := index[key]
		if !exists {
			g = &horizontalGroup{base: base, seen: make(map[string]bool)}
			index[key] = g
			groups = append(groups, g)
		} else {
			for i, cell := range base {
				if blank(g.base[i]) && !blank(cell) {
					g.base[i] = cell
				}
			}
		}

		for _, b := range readBlocks(row[fixedLen:], base[manualPrice]) {
			sig := blockSignature(b)
			if g.seen[sig] {
				continue
			}
			g.seen[sig] = true
			g.blocks = append(g.blocks, b)
		}
	}

	maxBlocks := 1
	for _, g := range groups {
		if !g.isolated && len(g.blocks) > 0 {
			g.base[manualPrice] = "0"
		}
		if len(g.blocks) == 0 {
			g.blocks = [][]string{make([]string, blockLen)}
		}
		if len(g.blocks) > maxBlocks {
			maxBlocks = len(g.blocks)
		}
	}

	header := horizontalHeader(maxBlocks)
	width := len(header)

	out := make(Table, 0, len(groups)+1)
	out = append(out, header)
	for _, g := range groups {
		row := make([]string, width)
		n := copy(row, g.base)
		for _, b := range g.blocks {
			n += copy(row[n:], b)
		}
		out = append(out, row)
	}
	return out
}

// readBlocks slices the trailing cells into 4-wide blocks and keeps those with
// any content. When basePrice is set, a labelled block without a price
// inherits it.
func readBlocks(cells []string, basePrice string) [][]string {
	var blocks [][]string
	for i := 0; i < len(cells); i += blockLen {
		end := i + blockLen
		if end > len(cells) {
			end = len(cells)
		}
		b := fit(cells[i:end], blockLen)

		if !blank(b[0]) && blank(b[1]) && !blank(basePrice) {
			b[1] = basePrice
		}

		for _, c := range b {
			if !blank(c) {
				blocks = append(blocks, b)
				break
			}
		}
	}
	return blocks
}

func blockSignature(b []string) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return strings.Join(parts, "\x1f")
}

func horizontalHeader(blocks int) []string {
	header := make([]string, 0, len(ManualFixedHeaders)+blocks*blockLen)
	header = append(header, ManualFixedHeaders...)
	for i := 0; i < blocks; i++ {
		header = append(header, VariationBlockHeaders...)
	}
	return header
}
