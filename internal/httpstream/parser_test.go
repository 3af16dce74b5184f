package httpstream

import (
	"bytes"
	"testing"
	"time"

	"mcpwatch/internal/beautify"
)

func newTestRequestParser(events *[]Event) *Parser {
	return New(Config{
		IsRequest: true,
		Emit:      func(e Event) { *events = append(*events, e) },
	})
}

func newTestResponseParser(events *[]Event, methodHint func() (string, bool)) *Parser {
	return New(Config{
		IsRequest:         false,
		RequestMethodHint: methodHint,
		Emit:              func(e Event) { *events = append(*events, e) },
	})
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestRequestLineSplitAcrossFeeds(t *testing.T) {
	var events []Event
	p := newTestRequestParser(&events)

	now := time.Now()
	p.Feed([]byte("GET /foo"), now)
	if len(events) != 0 {
		t.Fatalf("expected no events before start line completes, got %v", kinds(events))
	}
	p.Feed([]byte(" HTTP/1.1\r\nHost: x\r\n\r\n"), now)

	if got := kinds(events); len(got) < 4 {
		t.Fatalf("expected RequestStart/Header/HeadersEnd/MessageEnd, got %v", got)
	}
	if events[0].Kind != EventRequestStart {
		t.Fatalf("expected first event RequestStart, got %v", events[0].Kind)
	}
	if events[0].Msg.Method != "GET" || events[0].Msg.Target != "/foo" {
		t.Fatalf("unexpected request line: %+v", events[0].Msg)
	}
}

func TestContentLengthBody(t *testing.T) {
	var events []Event
	p := newTestResponseParser(&events, nil)

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	p.Feed([]byte(raw), time.Now())

	last := events[len(events)-1]
	if last.Kind != EventMessageEnd {
		t.Fatalf("expected MessageEnd, got %v", last.Kind)
	}
	if string(last.Msg.Body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", last.Msg.Body)
	}
}

func TestChunkedBodyWithTrailer(t *testing.T) {
	var events []Event
	p := newTestResponseParser(&events, nil)

	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n" +
		"6\r\n world\r\n" +
		"0\r\nX-Trailer: done\r\n\r\n"
	p.Feed([]byte(raw), time.Now())

	last := events[len(events)-1]
	if last.Kind != EventMessageEnd {
		t.Fatalf("expected MessageEnd, got %v", last.Kind)
	}
	if string(last.Msg.Body) != "hello world" {
		t.Fatalf("expected body %q, got %q", "hello world", last.Msg.Body)
	}
	if v, ok := last.Msg.HeaderGet("X-Trailer"); !ok || v != "done" {
		t.Fatalf("expected trailer X-Trailer: done, got %q ok=%v", v, ok)
	}
}

func TestEventStreamPingAndData(t *testing.T) {
	var events []Event
	p := newTestResponseParser(&events, nil)

	head := "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"
	p.Feed([]byte(head), time.Now())
	p.Feed([]byte(": ping\n"), time.Now())
	p.Feed([]byte("event: update\ndata: {\"a\":1}\n\n"), time.Now())

	var sseKinds []string
	var msg *Message
	for _, e := range events {
		if e.Kind == EventSseEvent {
			sseKinds = append(sseKinds, e.SSE.Kind)
			msg = e.Msg
		}
	}
	if len(sseKinds) != 2 || sseKinds[0] != "ping" || sseKinds[1] != "named" {
		t.Fatalf("unexpected sse kinds: %v", sseKinds)
	}
	p.Finish(time.Now())
	if msg == nil || len(msg.SSE) != 2 {
		t.Fatalf("expected message to retain 2 sse events, got %+v", msg)
	}
	if !bytes.Equal(msg.SSE[1].Pretty, []byte("{\n  \"a\": 1\n}")) {
		t.Fatalf("expected pretty JSON payload, got %q", msg.SSE[1].Pretty)
	}
}

func TestJSONBeautificationIdempotent(t *testing.T) {
	var events []Event
	p := newTestResponseParser(&events, nil)

	body := `{"x":1,"y":[1,2,3]}`
	raw := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	p.Feed([]byte(raw), time.Now())

	last := events[len(events)-1]
	pretty := last.Msg.Pretty
	if pretty == nil {
		t.Fatalf("expected pretty-printed body")
	}
	again := beautify.JSON(pretty)
	if !bytes.Equal(bytes.TrimSpace(pretty), bytes.TrimSpace(again)) {
		t.Fatalf("beautification not idempotent")
	}
}

func TestGarbageBeforeValidStartLineIsSkipped(t *testing.T) {
	var events []Event
	p := newTestRequestParser(&events)

	p.Feed([]byte("garbage garbage\r\nGET / HTTP/1.1\r\nHost: x\r\n\r\n"), time.Now())

	if p.Desynced() {
		t.Fatalf("parser should recover from leading garbage under the limit")
	}
	found := false
	for _, e := range events {
		if e.Kind == EventRequestStart {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected RequestStart after skipping garbage")
	}
}

func TestExcessiveGarbageDesyncs(t *testing.T) {
	var events []Event
	p := New(Config{
		IsRequest:  true,
		MaxGarbage: 16,
		Emit:       func(e Event) { events = append(events, e) },
	})

	p.Feed([]byte("this is not http traffic at all and keeps going on and on\r\n"), time.Now())

	if !p.Desynced() {
		t.Fatalf("expected parser to desync after exceeding garbage limit")
	}
	last := events[len(events)-1]
	if last.Kind != EventParseError {
		t.Fatalf("expected ParseError event, got %v", last.Kind)
	}
}

func TestHeadResponseHasEmptyBody(t *testing.T) {
	var events []Event
	hint := func() (string, bool) { return "HEAD", true }
	p := newTestResponseParser(&events, hint)

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"
	p.Feed([]byte(raw), time.Now())

	var msgEnd *Event
	for i := range events {
		if events[i].Kind == EventMessageEnd {
			msgEnd = &events[i]
		}
	}
	if msgEnd == nil {
		t.Fatalf("expected MessageEnd immediately after headers for HEAD response")
	}
	if msgEnd.Msg.BodyMode != BodyEmpty {
		t.Fatalf("expected BodyEmpty, got %v", msgEnd.Msg.BodyMode)
	}
}

func TestOversizeBodyTruncatesEarly(t *testing.T) {
	var events []Event
	p := New(Config{
		IsRequest:    false,
		MaxBodyBytes: 4,
		Emit:         func(e Event) { events = append(events, e) },
	})

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789"
	p.Feed([]byte(raw), time.Now())

	var msgEnd *Event
	for i := range events {
		if events[i].Kind == EventMessageEnd {
			msgEnd = &events[i]
		}
	}
	if msgEnd == nil {
		t.Fatalf("expected early MessageEnd on Oversize")
	}
	if !msgEnd.Msg.Truncated || msgEnd.Msg.TruncateNote != "Oversize" {
		t.Fatalf("expected Oversize truncation, got %+v", msgEnd.Msg)
	}
	if len(msgEnd.Msg.Body) != 4 {
		t.Fatalf("expected body capped at 4 bytes, got %d", len(msgEnd.Msg.Body))
	}
}

func TestUntilCloseBodyFinishesOnFlowClose(t *testing.T) {
	var events []Event
	p := newTestResponseParser(&events, nil)

	head := "HTTP/1.1 200 OK\r\n\r\n"
	p.Feed([]byte(head), time.Now())
	p.Feed([]byte("partial body, no terminator"), time.Now())

	for _, e := range events {
		if e.Kind == EventMessageEnd {
			t.Fatalf("did not expect MessageEnd before Finish for until-close body")
		}
	}

	p.Finish(time.Now())

	var msgEnd *Event
	for i := range events {
		if events[i].Kind == EventMessageEnd {
			msgEnd = &events[i]
		}
	}
	if msgEnd == nil {
		t.Fatalf("expected MessageEnd after Finish")
	}
	if string(msgEnd.Msg.Body) != "partial body, no terminator" {
		t.Fatalf("unexpected body: %q", msgEnd.Msg.Body)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
