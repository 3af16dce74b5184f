// Package beautify applies the stateless body-payload post-processing
// spec §4.5 assigns to the renderer's input: JSON detection/pretty-printing
// and (for callers that still carry the raw SSE line) stripping the
// "data: " prefix.
package beautify

import (
	"bytes"
	"encoding/json"
)

// JSON detects JSON per spec §4.3's "first non-whitespace byte" rule and,
// on success, returns a 2-space-indented pretty-printed form. On failure —
// or if the payload doesn't look like JSON at all — it returns the input
// unchanged, satisfying the idempotence property in spec §8 (re-beautifying
// an already-beautified payload is a no-op up to whitespace).
func JSON(payload []byte) []byte {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return payload
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return payload
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return payload
	}
	return buf.Bytes()
}

// IsJSON reports whether JSON would pretty-print the payload, i.e. whether
// it begins with '{' or '[' and parses.
func IsJSON(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(trimmed)
}

// StripDataPrefix removes a leading "data:" SSE field marker (and at most
// one following space) from a raw line. It is the identity function when
// the line carries no such prefix (spec §8), and exists for any caller that
// still holds a raw SSE line rather than an already-decoded payload — the
// parser's own SSE decoder (internal/httpstream) never stores the prefix in
// the first place.
func StripDataPrefix(line []byte) []byte {
	const prefix = "data:"
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return line
	}
	rest := line[len(prefix):]
	return bytes.TrimPrefix(rest, []byte(" "))
}
