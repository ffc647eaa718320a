package companies

import (
	"strings"

	"golang.org/x/text/cases"
)

// Match reports whether name contains term under Unicode case folding.
func Match(name, term string) bool {
	if term == "" {
		return true
	}
	folder := cases.Fold()
	return strings.Contains(folder.String(name), folder.String(term))
}
