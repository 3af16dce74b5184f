// Package correlate pairs requests and responses observed on a flow's two
// HTTP parsers into Transactions, and manages the lifetime of streaming
// (SSE) transactions (spec §4.4).
package correlate

import (
	"time"

	"mcpwatch/internal/flow"
	"mcpwatch/internal/httpstream"
)

// State is a Transaction's position in its lifecycle (spec §3).
type State int

const (
	AwaitingResponse State = iota
	Streaming
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingResponse:
		return "AwaitingResponse"
	case Streaming:
		return "Streaming"
	case Complete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Transaction is a request paired with its response on one flow. It carries
// the FlowKey by value rather than a live reference to the Flow, since
// rendering may complete after the Flow itself has been destroyed.
type Transaction struct {
	FlowKey    flow.Key
	ClientSide flow.Side

	Request  *httpstream.Message
	Response *httpstream.Message

	State State

	// BareResponse is set when a response arrived with no matching
	// AwaitingResponse request (spec §4.4).
	BareResponse bool

	// Note annotates the transaction for the renderer: PrematureNextRequest,
	// TruncatedByFlowClose, Oversize, or empty.
	Note string

	StartedAt   time.Time
	CompletedAt time.Time

	requestComplete  bool
	responseAttached bool
}

func newTransaction(key flow.Key, clientSide flow.Side, req *httpstream.Message, ts time.Time) *Transaction {
	return &Transaction{
		FlowKey:    key,
		ClientSide: clientSide,
		Request:    req,
		State:      AwaitingResponse,
		StartedAt:  ts,
	}
}
