package normalize

// verticalGroup collects the rows sharing one identity key.
type verticalGroup struct {
	rows [][]string
	// isolated groups hold a single row whose name or identity key is blank.
	isolated bool
}

// Vertical normalizes raw into the AI sheet schema.
//
// A name such as "Coffee Hot/Cold" with an empty variation column expands into
// a parent row plus one row per variation. Rows are then grouped by
// (name, online name, category, category online name). A group that carries
// variation rows is emitted as one parent with an empty variation and price
// "0" followed by its variation rows. Other groups are emitted unchanged.
func Vertical(raw Table) Table {
	width := len(AISheetHeaders)

	var groups []*verticalGroup
	index := make(map[string]*verticalGroup)

	add := func(row []string) {
		key, ok := identityKey(row[aiName], row[aiOnlineName], row[aiCategory], row[aiCategoryOnline])
		if blank(row[aiName]) || !ok {
			groups = append(groups, &verticalGroup{rows: [][]string{row}, isolated: true})
			return
		}
		g, exists := index[key]
		if !exists {
			g = &verticalGroup{}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}

	for _, src := range dataRows(raw) {
		row := fit(src, width)
		base, variations, split := SplitSlashName(row[aiName])
		if !split {
			add(row)
			continue
		}

		online := splitOnlineName(row[aiOnlineName], base)
		if !blank(row[aiVariation]) {
			// An explicit variation wins over the name split.
			row[aiName] = base
			row[aiOnlineName] = online
			add(row)
			continue
		}

		parent := fit(row, width)
		parent[aiName] = base
		parent[aiOnlineName] = online
		parent[aiVariation] = ""
		parent[aiPrice] = "0"
		add(parent)

		for _, v := range variations {
			child := fit(row, width)
			child[aiName] = base
			child[aiOnlineName] = online
			child[aiVariation] = v
			add(child)
		}
	}

	out := Table{append([]string(nil), AISheetHeaders...)}
	for _, g := range groups {
		out = append(out, g.emit(width)...)
	}
	return out
}

func (g *verticalGroup) emit(width int) [][]string {
	if g.isolated {
		return g.rows
	}

	var parent []string
	var variations [][]string
	for _, r := range g.rows {
		if blank(r[aiVariation]) {
			if parent == nil {
				parent = r
			}
			continue
		}
		variations = append(variations, r)
	}
	if len(variations) == 0 {
		return g.rows
	}

	if parent == nil {
		parent = variations[0]
	}
	head := fit(parent, width)
	head[aiVariation] = ""
	head[aiPrice] = "0"

	return append([][]string{head}, variations...)
}
