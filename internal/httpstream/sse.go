package httpstream

import (
	"bytes"
	"time"
)

// sseDecoder incrementally decodes text/event-stream framing (spec §4.3,
// GLOSSARY "SSE"). It is fed one complete line at a time and dispatches one
// SseEvent per blank line that ends a pending event, plus one per comment
// line.
type sseDecoder struct {
	pendingName string
	dataLines   [][]byte
	sawAnyField bool
}

func newSseDecoder() *sseDecoder {
	return &sseDecoder{}
}

// feedLine processes one line (without its terminator). It returns a
// dispatched event when the line is blank and the pending event carried at
// least one field, or when the line is a comment (returned as its own event
// at once, leaving the pending event untouched); otherwise ok is false.
func (d *sseDecoder) feedLine(line []byte, ts time.Time) (ev SseEvent, ok bool) {
	if len(line) == 0 {
		if !d.sawAnyField {
			return SseEvent{}, false
		}
		ev = d.dispatch(ts)
		d.reset()
		return ev, true
	}

	switch {
	case line[0] == ':':
		comment := bytes.TrimPrefix(line, []byte(":"))
		comment = bytes.TrimPrefix(comment, []byte(" "))
		kind := "comment"
		if string(comment) == "ping" {
			kind = "ping"
		}
		// A comment is its own event; per spec §3/§4.3 it dispatches
		// immediately rather than waiting for a blank line, since MCP's
		// ": ping" keepalive is not followed by one.
		return SseEvent{Kind: kind, Payload: comment, ReceivedAt: ts}, true

	case hasFieldPrefix(line, "data:"):
		d.dataLines = append(d.dataLines, trimFieldValue(line, "data:"))
		d.sawAnyField = true

	case hasFieldPrefix(line, "event:"):
		d.pendingName = string(trimFieldValue(line, "event:"))
		d.sawAnyField = true

	case hasFieldPrefix(line, "id:"), hasFieldPrefix(line, "retry:"):
		d.sawAnyField = true // recorded as having touched the pending event, not required

	default:
		// unknown field: ignored per spec §4.3
	}
	return SseEvent{}, false
}

func (d *sseDecoder) dispatch(ts time.Time) SseEvent {
	payload := bytes.Join(d.dataLines, []byte("\n"))
	kind := "data"
	if d.pendingName != "" {
		kind = "named"
	}
	return SseEvent{
		Kind:       kind,
		Name:       d.pendingName,
		Payload:    payload,
		ReceivedAt: ts,
	}
}

func (d *sseDecoder) reset() {
	d.pendingName = ""
	d.dataLines = nil
	d.sawAnyField = false
}

func hasFieldPrefix(line []byte, field string) bool {
	return bytes.HasPrefix(line, []byte(field))
}

// trimFieldValue strips the "field:" prefix and at most one leading space,
// per the SSE spec's "optional space" convention (spec §4.3).
func trimFieldValue(line []byte, field string) []byte {
	v := line[len(field):]
	v = bytes.TrimPrefix(v, []byte(" "))
	return v
}
