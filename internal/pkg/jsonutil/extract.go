package jsonutil

import "strings"

const codeFence = "```"

// ExtractJSON pulls the first JSON document out of free-form model output.
// It tries a fenced code block first, then a bare object, then a bare array.
// Balanced-bracket scanning is string-escape aware, so braces inside string
// values do not terminate the scan early.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if doc, ok := extractFromFence(raw); ok {
		return doc, true
	}
	if doc, ok := extractBalanced(raw, '{', '}'); ok {
		return doc, true
	}
	return extractBalanced(raw, '[', ']')
}

func extractFromFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// Drop a language tag line such as "json".
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	if doc, ok := extractBalanced(block, '{', '}'); ok {
		return doc, true
	}
	if doc, ok := extractBalanced(block, '[', ']'); ok {
		return doc, true
	}
	return block, true
}

func extractBalanced(raw string, open, close byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch ch {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
