package correlate

import (
	"net"
	"testing"
	"time"

	"mcpwatch/internal/flow"
	"mcpwatch/internal/httpstream"
)

func testKey() flow.Key {
	return flow.NewKey(
		flow.NewEndpoint(net.ParseIP("10.0.0.1"), 51000),
		flow.NewEndpoint(net.ParseIP("10.0.0.2"), 443),
	)
}

// drive feeds a request parser and a response parser wired to one
// Correlator, returning the completed transactions in emission order.
func drive(t *testing.T) (reqP, respP *httpstream.Parser, completed *[]*Transaction, streamStarts *[]*Transaction) {
	t.Helper()
	completed = &[]*Transaction{}
	streamStarts = &[]*Transaction{}

	c := New(testKey(), flow.SideLow, Notifier{
		Complete:    func(tx *Transaction) { *completed = append(*completed, tx) },
		StreamStart: func(tx *Transaction) { *streamStarts = append(*streamStarts, tx) },
	})

	reqP = httpstream.New(httpstream.Config{IsRequest: true, Emit: c.RequestEvents()})
	respP = httpstream.New(httpstream.Config{IsRequest: false, Emit: c.ResponseEvents()})
	return reqP, respP, completed, streamStarts
}

func TestBasicRequestResponsePairing(t *testing.T) {
	reqP, respP, completed, _ := drive(t)
	now := time.Now()

	reqP.Feed([]byte("GET /x HTTP/1.1\r\nHost: y\r\n\r\n"), now)
	respP.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"), now)

	if len(*completed) != 1 {
		t.Fatalf("expected 1 completed transaction, got %d", len(*completed))
	}
	tx := (*completed)[0]
	if tx.Request == nil || tx.Request.Target != "/x" {
		t.Fatalf("unexpected request: %+v", tx.Request)
	}
	if tx.Response == nil || tx.Response.StatusCode != 200 {
		t.Fatalf("unexpected response: %+v", tx.Response)
	}
	if tx.Note != "" {
		t.Fatalf("expected no annotation, got %q", tx.Note)
	}
}

func TestPrematureNextRequestAnnotation(t *testing.T) {
	reqP, respP, completed, _ := drive(t)
	now := time.Now()

	reqP.Feed([]byte("GET /first HTTP/1.1\r\nHost: y\r\n\r\n"), now)
	reqP.Feed([]byte("GET /second HTTP/1.1\r\nHost: y\r\n\r\n"), now)

	if len(*completed) != 1 {
		t.Fatalf("expected first request closed prematurely, got %d completed", len(*completed))
	}
	if (*completed)[0].Note != "PrematureNextRequest" {
		t.Fatalf("expected PrematureNextRequest, got %q", (*completed)[0].Note)
	}
	if (*completed)[0].Request.Target != "/first" {
		t.Fatalf("expected the first request to be the one closed, got %q", (*completed)[0].Request.Target)
	}

	respP.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), now)
	if len(*completed) != 2 {
		t.Fatalf("expected second transaction to pair with the eventual response, got %d completed", len(*completed))
	}
	if (*completed)[1].Request.Target != "/second" {
		t.Fatalf("expected response to pair with /second, got %q", (*completed)[1].Request.Target)
	}
}

func TestBareResponseWhenNoPendingRequest(t *testing.T) {
	_, respP, completed, _ := drive(t)
	now := time.Now()

	respP.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), now)

	if len(*completed) != 1 {
		t.Fatalf("expected 1 completed transaction, got %d", len(*completed))
	}
	if !(*completed)[0].BareResponse {
		t.Fatalf("expected BareResponse transaction")
	}
	if (*completed)[0].Request != nil {
		t.Fatalf("expected nil request placeholder, got %+v", (*completed)[0].Request)
	}
}

func TestStreamingTransitionsAndCompletesOnFinish(t *testing.T) {
	reqP, respP, completed, streamStarts := drive(t)
	now := time.Now()

	reqP.Feed([]byte("GET /sse HTTP/1.1\r\nHost: y\r\n\r\n"), now)
	respP.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"), now)

	if len(*streamStarts) != 1 {
		t.Fatalf("expected stream start notification, got %d", len(*streamStarts))
	}
	if len(*completed) != 0 {
		t.Fatalf("expected no completion yet, still streaming")
	}

	respP.Feed([]byte(": ping\n\ndata: hi\n\n"), now)
	respP.Finish(now)

	if len(*completed) != 1 {
		t.Fatalf("expected completion after Finish, got %d", len(*completed))
	}
	if (*completed)[0].State != Complete {
		t.Fatalf("expected Complete state, got %v", (*completed)[0].State)
	}
}

func TestFlowClosedFlushesPendingWithTruncationNote(t *testing.T) {
	now := time.Now()
	var completed []*Transaction

	c := New(testKey(), flow.SideLow, Notifier{Complete: func(tx *Transaction) { completed = append(completed, tx) }})
	reqP := httpstream.New(httpstream.Config{IsRequest: true, Emit: c.RequestEvents()})
	reqP.Feed([]byte("GET /never-answered HTTP/1.1\r\nHost: y\r\n\r\n"), now)

	if len(completed) != 0 {
		t.Fatalf("expected no completion before flow close, got %d", len(completed))
	}

	c.FlowClosed(now)

	if len(completed) != 1 {
		t.Fatalf("expected 1 completion after flow close, got %d", len(completed))
	}
	if completed[0].Note != "TruncatedByFlowClose" {
		t.Fatalf("expected TruncatedByFlowClose, got %q", completed[0].Note)
	}
}
