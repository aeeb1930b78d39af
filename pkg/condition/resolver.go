package condition

import (
	"sort"
	"strings"
)

// Resolve returns the declared identifiers matched by pattern, sorted.
//
// A pattern without '*' matches itself when declared. A single trailing '*'
// matches every declared name with the preceding prefix. Any other use of
// '*' matches nothing; callers report that as an unresolved reference.
func Resolve(pattern string, declared []string) []string {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		for _, d := range declared {
			if d == pattern {
				return []string{pattern}
			}
		}
		return nil
	}
	if star != len(pattern)-1 {
		return nil
	}
	prefix := pattern[:star]
	var out []string
	for _, d := range declared {
		if strings.HasPrefix(d, prefix) {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func isWildcard(pattern string) bool {
	return strings.IndexByte(pattern, '*') >= 0
}

// normalizeDeclared drops duplicates and the reserved detection keys
// condition and timeframe.
func normalizeDeclared(declared []string) []string {
	seen := make(map[string]struct{}, len(declared))
	out := make([]string, 0, len(declared))
	for _, d := range declared {
		if d == "" || d == "condition" || d == "timeframe" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
