// Package strings provides string slice helpers shared by the lock arena, the bulk
// coordinator and the proof verifier.
package strings

import (
	"slices"
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings, trimming whitespace from each
// element. Order of first occurrence is preserved.
//
//	DedupeAndTrim([]string{"  rec-1 ", "rec-2", "rec-1", "", "  "})
//	// []string{"rec-1", "rec-2"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// HashSet canonicalizes hex digests for set comparison: trimmed, lower-cased, an
// optional 0x prefix stripped, deduplicated and sorted.
func HashSet(values []string) []string {
	out := dedupe(values, func(v string) string {
		v = strings.ToLower(strings.TrimSpace(v))
		return strings.TrimPrefix(v, "0x")
	})
	slices.Sort(out)
	return out
}

// SortedUnique returns the distinct non-empty values in ascending order. Lock
// acquisition uses it to get a global order and avoid deadlocks.
func SortedUnique(values []string) []string {
	out := DedupeAndTrim(values)
	slices.Sort(out)
	return out
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}
	return result
}
