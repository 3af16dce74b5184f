// Package render prints completed (or streaming) Transactions as colored
// text blocks to stdout (spec §4.6). A single Writer fronts stdout so
// concurrent per-flow workers never interleave a block's lines (spec §5).
package render

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"mcpwatch/internal/beautify"
	"mcpwatch/internal/correlate"
	"mcpwatch/internal/flow"
	"mcpwatch/internal/httpstream"
)

// Writer serializes transaction output onto a single underlying stream.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	color  bool
	seqNum int // events since the latest StreamStart on this Writer, for streaming "[N]" labels; one counter serves all transactions
}

// New builds a Writer. Color output is auto-detected unless the caller has
// already decided (e.g. from the -color flag); pass -1 to auto
// detect, 0 to force off, 1 to force on.
func New(out io.Writer, colorOverride int) *Writer {
	on := enabled()
	switch colorOverride {
	case 0:
		on = false
	case 1:
		on = true
	}
	return &Writer{out: bufio.NewWriter(out), color: on}
}

// Notifier adapts a Writer to a correlate.Notifier, so a Correlator can
// drive rendering directly.
func (w *Writer) Notifier() correlate.Notifier {
	return correlate.Notifier{
		StreamStart: w.StreamStart,
		StreamEvent: w.StreamEvent,
		Complete:    w.Complete,
	}
}

// Complete renders a finished (or truncated) transaction as one block.
func (w *Writer) Complete(tx *correlate.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.out.Flush()

	if tx.Response != nil && tx.Response.BodyMode == httpstream.BodyEventStream {
		w.writeStreamFooter(tx)
		return
	}

	fmt.Fprintln(w.out, paint(w.color, colorCyan, "==================== TRANSACTION ===================="))
	w.writeHeaderLine(tx)
	w.writeRequestSection(tx)
	w.writeResponseSection(tx)
	w.writeAnnotation(tx)
	fmt.Fprintln(w.out, paint(w.color, colorCyan, "====================================================="))
}

// StreamStart prints the block preamble once headers are known, before any
// SSE events have arrived (spec §4.6 "header and preamble printed once").
func (w *Writer) StreamStart(tx *correlate.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.out.Flush()

	w.seqNum = 0
	fmt.Fprintln(w.out)
	w.writeHeaderLine(tx)
	w.writeRequestSection(tx)
	if tx.Response != nil {
		fmt.Fprintln(w.out, paint(w.color, colorBlue, fmt.Sprintf("◀ RESPONSE: %d %s", tx.Response.StatusCode, tx.Response.StatusText)))
		writeHeaders(w.out, w.color, tx.Response.Headers)
	}
}

// StreamEvent appends one SSE event line as it arrives.
func (w *Writer) StreamEvent(tx *correlate.Transaction, ev httpstream.SseEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.out.Flush()

	w.seqNum++
	switch ev.Kind {
	case "ping", "comment":
		fmt.Fprintln(w.out, paint(w.color, colorGrey, fmt.Sprintf("    [%d] : %s", w.seqNum, ev.Payload)))
	default:
		fmt.Fprintln(w.out, paint(w.color, colorYellow, fmt.Sprintf("    [Event %d]", w.seqNum)))
		writeIndentedBody(w.out, w.color, ev.Pretty, ev.Payload, "      ")
	}
}

func (w *Writer) writeStreamFooter(tx *correlate.Transaction) {
	fmt.Fprintln(w.out, paint(w.color, colorMagenta, "— stream ended —"))
	w.writeAnnotation(tx)
}

func (w *Writer) writeHeaderLine(tx *correlate.Transaction) {
	arrow := flow.Arrow(tx.FlowKey, tx.ClientSide)
	fmt.Fprintln(w.out, paint(w.color, colorBold, arrow))
}

func (w *Writer) writeRequestSection(tx *correlate.Transaction) {
	if tx.Request == nil {
		fmt.Fprintln(w.out, paint(w.color, colorGrey, "  (no request captured — BareResponse)"))
		return
	}
	fmt.Fprintln(w.out, paint(w.color, colorGreen, fmt.Sprintf("▶ REQUEST: %s %s %s", tx.Request.Method, tx.Request.Target, tx.Request.Version)))
	writeHeaders(w.out, w.color, tx.Request.Headers)
	if len(tx.Request.Body) > 0 {
		fmt.Fprintln(w.out, paint(w.color, colorGrey, "  [Request Body]"))
		writeIndentedBody(w.out, w.color, tx.Request.Pretty, tx.Request.Body, "    ")
	}
}

func (w *Writer) writeResponseSection(tx *correlate.Transaction) {
	if tx.Response == nil {
		return
	}
	fmt.Fprintln(w.out, paint(w.color, colorBlue, fmt.Sprintf("◀ RESPONSE: %s %d %s", tx.Response.RespVersion, tx.Response.StatusCode, tx.Response.StatusText)))
	writeHeaders(w.out, w.color, tx.Response.Headers)
	if len(tx.Response.Body) > 0 {
		fmt.Fprintln(w.out, paint(w.color, colorGrey, "  [Response Body]"))
		writeIndentedBody(w.out, w.color, tx.Response.Pretty, tx.Response.Body, "    ")
	}
}

func (w *Writer) writeAnnotation(tx *correlate.Transaction) {
	if tx.Note == "" {
		return
	}
	fmt.Fprintln(w.out, paint(w.color, colorGrey, fmt.Sprintf("  [%s]", tx.Note)))
}

func writeHeaders(out io.Writer, color bool, headers []httpstream.HeaderField) {
	for _, h := range headers {
		fmt.Fprintf(out, "  %s: %s\n", h.Name, h.Value)
	}
}

func writeIndentedBody(out io.Writer, color bool, pretty, raw []byte, indent string) {
	body := raw
	if len(pretty) > 0 {
		body = pretty
	} else if beautify.IsJSON(raw) {
		body = beautify.JSON(raw)
	}
	for _, line := range splitLines(body) {
		fmt.Fprintf(out, "%s%s\n", indent, line)
	}
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}
