package google

import (
	"fmt"
	"strings"
)

// firstColumn returns the trimmed first cell of each row, skipping blanks and
// "#" comment rows.
func firstColumn(values [][]interface{}) []string {
	out := make([]string, 0, len(values))
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		out = append(out, v)
	}
	return out
}
