package telemetry

import (
	"math"
	"strings"
)

// placeholders are cell values that count as empty.
var placeholders = map[string]bool{
	"N/A":       true,
	"null":      true,
	"undefined": true,
	`""`:        true,
}

// Accuracy scores a table with a header row by the share of data cells that
// hold a real value, rounded to an integer percentage. A table with no data
// rows scores 0; data rows with no cells score 100.
func Accuracy(table [][]string) int {
	if len(table) <= 1 {
		return 0
	}
	var total, valid int
	for _, row := range table[1:] {
		for _, cell := range row {
			total++
			s := strings.TrimSpace(cell)
			if s != "" && !placeholders[s] {
				valid++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(valid) * 100 / float64(total)))
}
