package record

import (
	"sort"
	"strings"
	"unicode"
)

// Normalize canonicalizes every top-level field name to snake_case so the
// rest of the pipeline only ever sees one naming convention. When a record
// carries both casings of the same field, the snake_case value wins.
func Normalize(r Record) Record {
	out := make(Record, len(r))
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if canonicalKey(k) == k {
			out[k] = r[k]
		}
	}
	for _, k := range keys {
		canon := canonicalKey(k)
		if canon == k {
			continue
		}
		if _, exists := out[canon]; !exists {
			out[canon] = r[k]
		}
	}
	return out
}

func canonicalKey(k string) string {
	if k == "" || strings.HasPrefix(k, "_") || strings.Contains(k, "_") {
		return k
	}
	var b strings.Builder
	b.Grow(len(k) + 4)
	runes := []rune(k)
	for i, c := range runes {
		if unicode.IsUpper(c) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (i > 0 && unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
