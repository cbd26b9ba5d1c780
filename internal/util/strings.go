// Package util holds small helpers shared across the codebase.
package util

import "strings"

// SplitCSV splits a comma-separated flag value into trimmed parts. Empty
// input and empty parts yield nothing.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
