package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pretty re-indents a JSON document for log dumps. json.Indent preserves
// key order, unlike an unmarshal/marshal round trip. Anything that is not
// valid JSON comes back unchanged.
func Pretty(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
