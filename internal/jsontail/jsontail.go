// Package jsontail recovers a JSON result object from mixed process output.
// Pipeline programs and the CLI itself may interleave human-readable
// diagnostic lines with a final JSON document on one stream; consumers get
// the result back by scanning from the end for the last top-level object
// that parses.
package jsontail

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Extract returns the last top-level JSON object in s, scanning backwards.
// ok is false when no parseable object exists; no output ever causes a panic
// or an error, only a "no result" answer.
func Extract(s string) (json.RawMessage, bool) {
	for i := strings.LastIndexByte(s, '{'); i >= 0; i = strings.LastIndexByte(s[:i], '{') {
		candidate := s[i:]
		dec := json.NewDecoder(strings.NewReader(candidate))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		// The object must run to the end of the stream, trailing
		// whitespace aside, or it was an embedded fragment.
		rest := candidate[dec.InputOffset():]
		if strings.TrimSpace(rest) != "" {
			continue
		}
		return raw, true
	}
	return nil, false
}

// Unmarshal extracts the trailing object and decodes it into v.
func Unmarshal(s string, v interface{}) bool {
	raw, ok := Extract(s)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Compact returns the extracted object with insignificant whitespace removed,
// which is what tests and log lines compare against.
func Compact(s string) (string, bool) {
	raw, ok := Extract(s)
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", false
	}
	return buf.String(), true
}
