package correlate

import (
	"time"

	"mcpwatch/internal/flow"
	"mcpwatch/internal/httpstream"
)

// Notifier receives Transaction lifecycle notifications from a Correlator.
// StreamStart/StreamEvent support the incremental rendering spec §4.4/§4.6
// requires while a transaction is Streaming; Complete is the final emission.
type Notifier struct {
	StreamStart func(tx *Transaction)
	StreamEvent func(tx *Transaction, ev httpstream.SseEvent)
	Complete    func(tx *Transaction)
}

func (n Notifier) streamStart(tx *Transaction) {
	if n.StreamStart != nil {
		n.StreamStart(tx)
	}
}

func (n Notifier) streamEvent(tx *Transaction, ev httpstream.SseEvent) {
	if n.StreamEvent != nil {
		n.StreamEvent(tx, ev)
	}
}

func (n Notifier) complete(tx *Transaction) {
	if n.Complete != nil {
		n.Complete(tx)
	}
}

// Correlator implements spec §4.4 for a single flow: it consumes the events
// of that flow's two httpstream.Parser instances and emits Transactions.
// A Correlator is not safe for concurrent use; spec §5 pins one flow to one
// worker, so none is needed.
type Correlator struct {
	key        flow.Key
	clientSide flow.Side
	notifier   Notifier

	pending []*Transaction

	byRequest  map[*httpstream.Message]*Transaction
	byResponse map[*httpstream.Message]*Transaction
}

// New builds a Correlator for one flow. clientSide names which side of key
// sends requests, for the renderer's direction arrows (spec §4.6).
func New(key flow.Key, clientSide flow.Side, notifier Notifier) *Correlator {
	return &Correlator{
		key:        key,
		clientSide: clientSide,
		notifier:   notifier,
		byRequest:  make(map[*httpstream.Message]*Transaction),
		byResponse: make(map[*httpstream.Message]*Transaction),
	}
}

// RequestEvents returns a Sink to feed the flow's client→server parser.
func (c *Correlator) RequestEvents() httpstream.Sink {
	return c.onRequestEvent
}

// ResponseEvents returns a Sink to feed the flow's server→client parser.
func (c *Correlator) ResponseEvents() httpstream.Sink {
	return c.onResponseEvent
}

func (c *Correlator) onRequestEvent(e httpstream.Event) {
	switch e.Kind {
	case httpstream.EventRequestStart:
		c.closeDanglingAwaitingResponse(e.Time)
		tx := newTransaction(c.key, c.clientSide, e.Msg, e.Time)
		c.byRequest[e.Msg] = tx
		c.pending = append(c.pending, tx)
	case httpstream.EventMessageEnd:
		if tx, ok := c.byRequest[e.Msg]; ok {
			tx.requestComplete = true
		}
	}
}

func (c *Correlator) onResponseEvent(e httpstream.Event) {
	switch e.Kind {
	case httpstream.EventResponseStart:
		tx := c.attachResponse(e.Msg, e.Time)
		c.byResponse[e.Msg] = tx
	case httpstream.EventHeadersEnd:
		tx, ok := c.byResponse[e.Msg]
		if !ok {
			return
		}
		if e.Msg.BodyMode == httpstream.BodyEventStream {
			tx.State = Streaming
			c.notifier.streamStart(tx)
		}
	case httpstream.EventSseEvent:
		if tx, ok := c.byResponse[e.Msg]; ok && tx.State == Streaming {
			c.notifier.streamEvent(tx, e.SSE)
		}
	case httpstream.EventMessageEnd:
		tx, ok := c.byResponse[e.Msg]
		if !ok {
			return
		}
		c.completeTransaction(tx, e.Time, e.Reason)
	}
}

// closeDanglingAwaitingResponse implements the pipelining-rejection rule:
// at most one AwaitingResponse transaction may exist per flow (spec §4.4).
func (c *Correlator) closeDanglingAwaitingResponse(ts time.Time) {
	for i, tx := range c.pending {
		if tx.State == AwaitingResponse && !tx.responseAttached {
			c.removePending(i)
			c.completeTransaction(tx, ts, "PrematureNextRequest")
			return
		}
	}
}

// attachResponse pairs a response with the oldest eligible pending
// transaction, or opens a BareResponse transaction if none qualifies.
func (c *Correlator) attachResponse(msg *httpstream.Message, ts time.Time) *Transaction {
	for _, tx := range c.pending {
		if !tx.responseAttached && tx.requestComplete {
			tx.Response = msg
			tx.responseAttached = true
			return tx
		}
	}

	tx := newTransaction(c.key, c.clientSide, nil, ts)
	tx.BareResponse = true
	tx.Response = msg
	tx.responseAttached = true
	c.pending = append(c.pending, tx)
	return tx
}

func (c *Correlator) completeTransaction(tx *Transaction, ts time.Time, note string) {
	if note != "" {
		tx.Note = note
	}
	tx.State = Complete
	tx.CompletedAt = ts
	c.forgetPending(tx)
	c.notifier.complete(tx)
}

func (c *Correlator) forgetPending(tx *Transaction) {
	for i, p := range c.pending {
		if p == tx {
			c.removePending(i)
			return
		}
	}
}

func (c *Correlator) removePending(i int) {
	c.pending = append(c.pending[:i], c.pending[i+1:]...)
}

// FlowClosed implements the flow-destruction rule: every transaction still
// pending is emitted with TruncatedByFlowClose (spec §4.4).
func (c *Correlator) FlowClosed(ts time.Time) {
	remaining := c.pending
	c.pending = nil
	for _, tx := range remaining {
		tx.Note = "TruncatedByFlowClose"
		tx.State = Complete
		tx.CompletedAt = ts
		c.notifier.complete(tx)
	}
}
