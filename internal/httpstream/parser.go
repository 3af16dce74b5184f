// Package httpstream implements the resumable HTTP/1.x + SSE state machine
// described in spec §4.3: two independent Parser instances per flow (one
// per direction) consume bytes handed to them by the half-stream
// reassembler and emit structured events for the transaction correlator.
package httpstream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mcpwatch/internal/beautify"
)

type state int

const (
	stStartLine state = iota
	stHeaders
	stBody
)

// Config configures one Parser instance. RequestMethodHint is only
// consulted on the response-side parser; it lets the parser apply the
// "responses to HEAD have an empty body" rule (spec §4.3) without itself
// knowing anything about request/response pairing.
type Config struct {
	IsRequest         bool
	MaxGarbage        int
	MaxBodyBytes      int64
	RequestMethodHint func() (method string, ok bool)
	Emit              Sink
}

// Parser is one resumable direction of the HTTP stream state machine
// (spec §4.3: AwaitingStartLine → ReadingHeaders → ReadingBody → Idle).
type Parser struct {
	cfg Config
	st  state

	pending  []byte
	garbage  int
	desynced bool

	msg           *Message
	bodyRemaining int64
	chunked       *chunkedDecoder
	sse           *sseDecoder
	sseBytes      int
}

// New builds a Parser for one direction of a flow.
func New(cfg Config) *Parser {
	if cfg.MaxGarbage <= 0 {
		cfg.MaxGarbage = 8 << 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 20
	}
	return &Parser{cfg: cfg, st: stStartLine}
}

// Desynced reports whether this side has given up on parsing (spec §4.3,
// §7: a ParseError or garbage overrun marks the side Desynchronized).
func (p *Parser) Desynced() bool { return p.desynced }

// Feed hands newly-available contiguous bytes to the parser and drains as
// much of them as can be turned into events, following spec §4.2's
// "yields on NeedMore rather than blocking" contract: Feed never blocks and
// simply retains whatever it could not yet consume.
func (p *Parser) Feed(data []byte, ts time.Time) {
	if p.desynced {
		return
	}
	if len(data) > 0 {
		p.pending = append(p.pending, data...)
	}
	for p.step(ts) {
	}
	p.compact()
}

// Finish tells the parser its half-stream has closed (FIN) or the flow is
// being torn down. It finalizes any in-progress message whose body mode
// has no other terminator (EventStream, UntilClose) or that was cut short.
func (p *Parser) Finish(ts time.Time) {
	if p.msg == nil || p.desynced {
		return
	}
	switch p.msg.BodyMode {
	case BodyEventStream, BodyUntilClose:
		p.emitMessageEnd(ts, "")
	default:
		p.emitMessageEnd(ts, "TruncatedByFlowClose")
	}
	p.resetAfterMessage()
}

func (p *Parser) step(ts time.Time) bool {
	switch p.st {
	case stStartLine:
		return p.stepStartLine(ts)
	case stHeaders:
		return p.stepHeaders(ts)
	case stBody:
		return p.stepBody(ts)
	default:
		return false
	}
}

func (p *Parser) stepStartLine(ts time.Time) bool {
	line, n := readLine(p.pending)
	if n < 0 {
		if len(p.pending) >= p.cfg.MaxGarbage {
			p.fail(ts, fmt.Errorf("no start line within %d bytes", p.cfg.MaxGarbage))
		}
		return false
	}
	if len(line) == 0 {
		p.consume(n)
		return true
	}

	if p.cfg.IsRequest {
		if method, target, version, ok := parseRequestLine(line); ok {
			p.consume(n)
			p.beginRequest(method, target, version, ts)
			return true
		}
	} else {
		if version, code, text, ok := parseStatusLine(line); ok {
			p.consume(n)
			p.beginResponse(version, code, text, ts)
			return true
		}
	}

	p.garbage += n
	p.consume(n)
	if p.garbage > p.cfg.MaxGarbage {
		p.fail(ts, fmt.Errorf("no valid start line within %d bytes of garbage", p.cfg.MaxGarbage))
		return false
	}
	return true
}

func (p *Parser) beginRequest(method, target, version string, ts time.Time) {
	p.msg = &Message{IsRequest: true, Method: method, Target: target, Version: version, FirstByteAt: ts}
	p.garbage = 0
	p.emit(Event{Kind: EventRequestStart, Time: ts, Msg: p.msg})
	p.st = stHeaders
}

func (p *Parser) beginResponse(version string, code int, text string, ts time.Time) {
	p.msg = &Message{IsRequest: false, RespVersion: version, StatusCode: code, StatusText: text, FirstByteAt: ts}
	p.garbage = 0
	p.emit(Event{Kind: EventResponseStart, Time: ts, Msg: p.msg})
	p.st = stHeaders
}

func (p *Parser) stepHeaders(ts time.Time) bool {
	var block []byte
	if line, n := readLine(p.pending); n >= 0 && len(line) == 0 {
		// The line right after the start-line is itself blank: no headers.
		p.consume(n)
	} else {
		blockEnd, termLen := findBlankLine(p.pending)
		if blockEnd < 0 {
			return false
		}
		block = p.pending[:blockEnd]
		p.consume(blockEnd + termLen)
	}

	for _, raw := range unfoldHeaderLines(block) {
		name, value, ok := splitHeaderLine(raw)
		if !ok {
			p.fail(ts, fmt.Errorf("malformed header %q", raw))
			return false
		}
		p.msg.addHeader(name, value)
		p.emit(Event{Kind: EventHeader, Time: ts, Msg: p.msg, Header: HeaderField{Name: name, Value: value}})
	}

	p.msg.HeadersCompleteAt = ts
	mode, length, err := computeBodyMode(p.msg, p.cfg.IsRequest, p.cfg.RequestMethodHint)
	if err != nil {
		p.fail(ts, err)
		return false
	}
	p.msg.BodyMode = mode
	p.msg.ContentLength = length
	p.emit(Event{Kind: EventHeadersEnd, Time: ts, Msg: p.msg})

	switch mode {
	case BodyEmpty:
		p.emitMessageEnd(ts, "")
		p.resetAfterMessage()
	case BodyLength:
		p.bodyRemaining = length
		p.st = stBody
	case BodyChunked:
		p.chunked = newChunkedDecoder()
		p.st = stBody
	case BodyEventStream:
		p.sse = newSseDecoder()
		p.sseBytes = 0
		p.st = stBody
	case BodyUntilClose:
		p.st = stBody
	}
	return true
}

func (p *Parser) stepBody(ts time.Time) bool {
	switch p.msg.BodyMode {
	case BodyLength:
		return p.stepLengthBody(ts)
	case BodyChunked:
		return p.stepChunkedBody(ts)
	case BodyEventStream:
		return p.stepEventStreamBody(ts)
	case BodyUntilClose:
		return p.stepUntilCloseBody(ts)
	default:
		return false
	}
}

func (p *Parser) stepLengthBody(ts time.Time) bool {
	if len(p.pending) == 0 {
		return false
	}
	take := int64(len(p.pending))
	if take > p.bodyRemaining {
		take = p.bodyRemaining
	}
	chunk := p.pending[:take]
	p.appendBody(chunk, ts)
	p.emit(Event{Kind: EventBodyChunk, Time: ts, Msg: p.msg, Chunk: chunk})
	p.consume(int(take))
	p.bodyRemaining -= take
	if p.bodyRemaining == 0 {
		p.emitMessageEnd(ts, "")
		p.resetAfterMessage()
	}
	return true
}

func (p *Parser) stepChunkedBody(ts time.Time) bool {
	res := p.chunked.step(p.pending)
	if res.err != nil {
		p.fail(ts, res.err)
		return false
	}
	if res.consumed == 0 && !res.done {
		return false
	}
	if len(res.data) > 0 {
		p.appendBody(res.data, ts)
		p.emit(Event{Kind: EventBodyChunk, Time: ts, Msg: p.msg, Chunk: res.data})
	}
	if res.trailer != nil {
		p.msg.addHeader(res.trailer.Name, res.trailer.Value)
		p.emit(Event{Kind: EventHeader, Time: ts, Msg: p.msg, Header: *res.trailer})
	}
	p.consume(res.consumed)
	if res.done {
		p.emitMessageEnd(ts, "")
		p.resetAfterMessage()
	}
	return true
}

func (p *Parser) stepEventStreamBody(ts time.Time) bool {
	progressed := false
	for {
		line, n := readLine(p.pending)
		if n < 0 {
			break
		}
		p.consume(n)
		progressed = true
		if ev, ok := p.sse.feedLine(line, ts); ok {
			p.appendSse(ev)
			p.emit(Event{Kind: EventSseEvent, Time: ts, Msg: p.msg, SSE: ev})
		}
	}
	return progressed
}

func (p *Parser) stepUntilCloseBody(ts time.Time) bool {
	if len(p.pending) == 0 {
		return false
	}
	chunk := p.pending
	p.appendBody(chunk, ts)
	p.emit(Event{Kind: EventBodyChunk, Time: ts, Msg: p.msg, Chunk: chunk})
	p.consume(len(chunk))
	return true
}

func (p *Parser) appendBody(b []byte, ts time.Time) {
	if p.msg.Truncated {
		return
	}
	room := p.cfg.MaxBodyBytes - int64(len(p.msg.Body))
	if room <= 0 {
		p.msg.Truncated = true
		p.msg.TruncateNote = "Oversize"
		p.emitMessageEnd(ts, "Oversize")
		return
	}
	if int64(len(b)) > room {
		p.msg.Body = append(p.msg.Body, b[:room]...)
		p.msg.Truncated = true
		p.msg.TruncateNote = "Oversize"
		p.emitMessageEnd(ts, "Oversize")
		return
	}
	p.msg.Body = append(p.msg.Body, b...)
}

func (p *Parser) appendSse(ev SseEvent) {
	if p.msg.Truncated {
		return
	}
	p.sseBytes += len(ev.Payload)
	if int64(p.sseBytes) > p.cfg.MaxBodyBytes {
		p.msg.Truncated = true
		p.msg.TruncateNote = "Oversize"
		return
	}
	p.msg.SSE = append(p.msg.SSE, ev)
}

func (p *Parser) emitMessageEnd(ts time.Time, reason string) {
	if p.msg.finished {
		return
	}
	p.msg.finished = true
	p.msg.MessageEndAt = ts
	beautifyMessage(p.msg)
	p.emit(Event{Kind: EventMessageEnd, Time: ts, Msg: p.msg, Reason: reason})
}

func (p *Parser) resetAfterMessage() {
	p.msg = nil
	p.chunked = nil
	p.sse = nil
	p.bodyRemaining = 0
	p.st = stStartLine
}

func (p *Parser) fail(ts time.Time, err error) {
	p.desynced = true
	p.emit(Event{Kind: EventParseError, Time: ts, Msg: p.msg, Err: err})
}

func (p *Parser) emit(ev Event) {
	if p.cfg.Emit != nil {
		p.cfg.Emit(ev)
	}
}

func (p *Parser) consume(n int) {
	p.pending = p.pending[n:]
}

// compact reclaims the backing array once the unconsumed tail has shrunk
// well below what Feed has accumulated over time, so a long-lived flow
// doesn't pin a large buffer after a single big request.
func (p *Parser) compact() {
	if cap(p.pending) > 4096 && len(p.pending)*2 < cap(p.pending) {
		p.pending = append([]byte(nil), p.pending...)
	}
}

func beautifyMessage(msg *Message) {
	if msg.BodyMode == BodyEventStream {
		for i := range msg.SSE {
			msg.SSE[i].Pretty = beautify.JSON(msg.SSE[i].Payload)
		}
		return
	}
	if len(msg.Body) > 0 {
		msg.Pretty = beautify.JSON(msg.Body)
	}
}

func computeBodyMode(msg *Message, isRequest bool, requestMethodHint func() (string, bool)) (BodyMode, int64, error) {
	if !isRequest {
		if msg.StatusCode/100 == 1 || msg.StatusCode == 204 || msg.StatusCode == 304 {
			return BodyEmpty, 0, nil
		}
		if requestMethodHint != nil {
			if method, ok := requestMethodHint(); ok && strings.EqualFold(method, "HEAD") {
				return BodyEmpty, 0, nil
			}
		}
	}

	te, _ := msg.HeaderGet("Transfer-Encoding")
	if strings.Contains(strings.ToLower(te), "chunked") {
		return BodyChunked, 0, nil
	}

	ct, _ := msg.HeaderGet("Content-Type")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "text/event-stream") {
		if isRequest {
			return BodyUntilClose, 0, nil
		}
		return BodyEventStream, 0, nil
	}

	if clStr, ok := msg.HeaderGet("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(clStr), 10, 64)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid Content-Length %q", clStr)
		}
		if n == 0 {
			return BodyEmpty, 0, nil
		}
		return BodyLength, n, nil
	}

	if isRequest {
		// A request with no Transfer-Encoding, no SSE content type, and no
		// Content-Length carries no body (e.g. a plain GET) and is complete
		// at end-of-headers. Apart from the event-stream case above,
		// UntilClose is reserved for responses, which can legitimately run to
		// flow close with no framing at all.
		return BodyEmpty, 0, nil
	}
	return BodyUntilClose, 0, nil
}

func parseRequestLine(line []byte) (method, target, version string, ok bool) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	version = string(parts[2])
	if !strings.HasPrefix(version, "HTTP/") {
		return "", "", "", false
	}
	method = string(parts[0])
	if !isMethodToken(method) {
		return "", "", "", false
	}
	target = string(parts[1])
	if target == "" {
		return "", "", "", false
	}
	return method, target, version, true
}

func isMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseStatusLine(line []byte) (version string, code int, text string, ok bool) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return "", 0, "", false
	}
	version = string(parts[0])
	if !strings.HasPrefix(version, "HTTP/") {
		return "", 0, "", false
	}
	codeStr := string(parts[1])
	if len(codeStr) != 3 {
		return "", 0, "", false
	}
	c, err := strconv.Atoi(codeStr)
	if err != nil || c < 0 {
		return "", 0, "", false
	}
	if len(parts) == 3 {
		text = string(parts[2])
	}
	return version, c, text, true
}

func findBlankLine(b []byte) (blockEnd int, termLen int) {
	iCRLF := bytes.Index(b, []byte("\r\n\r\n"))
	iLF := bytes.Index(b, []byte("\n\n"))
	switch {
	case iCRLF < 0 && iLF < 0:
		return -1, 0
	case iCRLF < 0:
		return iLF + 1, 1
	case iLF < 0:
		return iCRLF + 2, 2
	case iCRLF <= iLF:
		return iCRLF + 2, 2
	default:
		return iLF + 1, 1
	}
}

func unfoldHeaderLines(block []byte) [][]byte {
	rawLines := splitLines(block)
	var out [][]byte
	for _, line := range rawLines {
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			cont := bytes.TrimSpace(line)
			merged := append(out[len(out)-1], ' ')
			merged = append(merged, cont...)
			out[len(out)-1] = merged
			continue
		}
		out = append(out, append([]byte(nil), line...))
	}
	return out
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			line := bytes.TrimSuffix(b[:i], []byte("\r"))
			lines = append(lines, line)
			b = b[i+1:]
		} else {
			lines = append(lines, b)
			break
		}
	}
	return lines
}
