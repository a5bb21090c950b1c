package shell

import (
	"fmt"
	"strings"

	"fmgshell/fmg"
)

// FormatStatus renders fields as "key : value" lines with the colons
// aligned one column past the longest key.
func FormatStatus(fields []fmg.Field) string {
	width := 0
	for _, f := range fields {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%-*s: %s\n", width+1, f.Key, f.Value)
	}
	return b.String()
}
