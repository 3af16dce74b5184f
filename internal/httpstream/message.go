package httpstream

import (
	"strings"
	"time"
)

// BodyMode is the body-framing strategy selected once headers are known
// (spec §4.3).
type BodyMode int

const (
	BodyEmpty BodyMode = iota
	BodyLength
	BodyChunked
	BodyEventStream
	BodyUntilClose
)

func (m BodyMode) String() string {
	switch m {
	case BodyEmpty:
		return "empty"
	case BodyLength:
		return "length"
	case BodyChunked:
		return "chunked"
	case BodyEventStream:
		return "event-stream"
	case BodyUntilClose:
		return "until-close"
	default:
		return "unknown"
	}
}

// HeaderField is one (name, value) pair. Duplicate headers are preserved in
// arrival order; name case is kept for display.
type HeaderField struct {
	Name  string
	Value string
}

// SseEvent is one dispatched Server-Sent Event (spec §3).
type SseEvent struct {
	Kind       string // "comment", "ping", "data", "named"
	Name       string
	Payload    []byte
	Pretty     []byte // JSON-pretty-printed payload, if applicable
	ReceivedAt time.Time
}

// Message is a request or response in progress or complete (spec §3).
type Message struct {
	IsRequest bool

	Method, Target, Version string // request line
	StatusCode              int    // response line
	StatusText              string
	RespVersion             string

	Headers []HeaderField

	BodyMode      BodyMode
	ContentLength int64

	Body   []byte // raw accumulated body (Length/Chunked/UntilClose)
	Pretty []byte // JSON-pretty-printed body, if applicable

	SSE []SseEvent // dispatched events, for BodyEventStream

	Truncated    bool // set once the body accumulator hit its cap (Oversize)
	TruncateNote string

	FirstByteAt       time.Time
	HeadersCompleteAt time.Time
	MessageEndAt      time.Time

	finished bool // guards emitMessageEnd idempotence (Oversize can trigger it early)
}

// HeaderGet returns the first value for a header name, matched case
// insensitively, following spec §4.2's "case-insensitive first match wins"
// rule.
func (m *Message) HeaderGet(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HeaderGetAll returns every value recorded for a header name, in arrival
// order. Set-Cookie is the header spec §4.2 calls out as needing every
// value; callers that care about duplicates for other headers use this too.
func (m *Message) HeaderGetAll(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

func (m *Message) addHeader(name, value string) {
	m.Headers = append(m.Headers, HeaderField{Name: name, Value: value})
}
