package edit

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders before→after as a unified diff with three lines of
// context. Identical inputs produce the empty string.
func UnifiedDiff(file string, before, after []byte) string {
	if string(before) == string(after) {
		return ""
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + file,
		ToFile:   "b/" + file,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}
