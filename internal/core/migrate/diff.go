package migrate

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fieldDiff renders the before/after of the migrated field as a line diff,
// one "-", "+" or " " prefixed line per rendered JSON line.
func fieldDiff(before, after any) string {
	from := renderValue(before)
	to := renderValue(after)

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String()
}

func renderValue(value any) string {
	if value == nil {
		return "<absent>\n"
	}
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "<unencodable>\n"
	}
	return string(encoded) + "\n"
}
