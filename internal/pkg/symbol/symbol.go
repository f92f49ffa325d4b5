// Package symbol normalizes equity ticker symbols coming from config,
// model output and feed payloads into one canonical form.
package symbol

import (
	"sort"
	"strings"
)

// Normalize returns the canonical ticker: trimmed, uppercased, with any
// exchange suffix after ':' dropped (e.g. "aapl:nasdaq" -> "AAPL").
// Returns "" for input that cannot be a ticker.
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	if !valid(s) {
		return ""
	}
	return s
}

// NormalizeAll normalizes, deduplicates and sorts a symbol list. Entries
// that normalize to "" are dropped.
func NormalizeAll(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	sort.Strings(out)
	return out
}

// valid accepts 1-10 chars of A-Z, digits, '.' and '-' (class shares and
// index-style tickers like BRK.B or BF-B).
func valid(s string) bool {
	if len(s) == 0 || len(s) > 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}
