package capture

import (
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"

	"mcpwatch/internal/config"
	"mcpwatch/internal/correlate"
	"mcpwatch/internal/flow"
	"mcpwatch/internal/httpstream"
	"mcpwatch/internal/render"
)

// tcpStream is one flow's reassembly.Stream, grounded on the teacher's
// tcpStream (sniffer.go): Accept rejects TCP option violations (FSM
// violations are only recorded), and
// ReassembledSG hands ordered bytes to the two per-direction parsers
// instead of the teacher's httpReader goroutines.
type tcpStream struct {
	mu sync.Mutex

	key       flow.Key
	net       gopacket.Flow
	transport gopacket.Flow

	fsm        *reassembly.TCPSimpleFSM
	fsmerr     bool
	optchecker reassembly.TCPOptionCheck

	clientDirKnown bool
	clientDir      reassembly.TCPFlowDirection

	corr       *correlate.Correlator
	reqParser  *httpstream.Parser
	respParser *httpstream.Parser

	table *flow.Table[*tcpStream] // touched on activity so LRU eviction reflects spec §5's last-byte ordering

	lastActivity time.Time
	closed       bool
}

func newTCPStream(netFlow, transport gopacket.Flow, tcp *layers.TCP, cfg config.Config, out *render.Writer, table *flow.Table[*tcpStream]) *tcpStream {
	key := flowKeyFromFlow(netFlow, transport)
	clientSide, _ := key.SideOf(endpointFromFlow(netFlow, transport, true))

	corr := correlate.New(key, clientSide, out.Notifier())

	s := &tcpStream{
		key:       key,
		net:       netFlow,
		transport: transport,
		fsm:       reassembly.NewTCPSimpleFSM(reassembly.TCPSimpleFSMOptions{SupportMissingEstablishment: true}),
		corr:      corr,
		table:     table,
	}

	var requestMethod string
	var haveMethod bool
	s.reqParser = httpstream.New(httpstream.Config{
		IsRequest:    true,
		MaxGarbage:   cfg.MaxStartLineGarbage,
		MaxBodyBytes: cfg.BodyCap,
		Emit: func(e httpstream.Event) {
			if e.Kind == httpstream.EventRequestStart {
				requestMethod, haveMethod = e.Msg.Method, true
			}
			corr.RequestEvents()(e)
		},
	})
	s.respParser = httpstream.New(httpstream.Config{
		IsRequest:         false,
		MaxGarbage:        cfg.MaxStartLineGarbage,
		MaxBodyBytes:      cfg.BodyCap,
		RequestMethodHint: func() (string, bool) { return requestMethod, haveMethod },
		Emit:              corr.ResponseEvents(),
	})
	return s
}

// Key implements flow.Entry.
func (s *tcpStream) Key() flow.Key { return s.key }

// LastActivity implements flow.Entry.
func (s *tcpStream) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close implements flow.Entry: it finishes both parsers, then emits every
// transaction still pending with TruncatedByFlowClose (spec §4.4, §5). A
// response cut short mid-body is emitted with TruncatedByFlowClose; an
// event-stream or until-close response in progress ends as a normal
// MessageEnd with no annotation, whatever the reason.
func (s *tcpStream) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	now := s.lastActivity
	s.reqParser.Finish(now)
	s.respParser.Finish(now)
	s.corr.FlowClosed(now)
}

// Accept implements reassembly.Stream. Unlike the teacher's
// tcpStream.Accept (sniffer.go), an FSM violation only sets fsmerr and the
// segment is still accepted; a TCP option violation rejects the segment.
func (s *tcpStream) Accept(tcp *layers.TCP, ci gopacket.CaptureInfo, dir reassembly.TCPFlowDirection, nextSeq reassembly.Sequence, start *bool, ac reassembly.AssemblerContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.clientDirKnown {
		s.clientDir = dir
		s.clientDirKnown = true
	}

	if !s.fsm.CheckState(tcp, dir) {
		s.fsmerr = true
	}
	if err := s.optchecker.Accept(tcp, ci, dir, nextSeq, start); err != nil {
		return false
	}
	s.lastActivity = ci.Timestamp
	s.touchTable()
	return true
}

// ReassembledSG implements reassembly.Stream: ordered bytes are fed to the
// request parser when dir matches the client direction determined on the
// flow's first observed segment, otherwise to the response parser. Spec
// §4.1's SYN-based rule is what reassembly.Assembler already uses to orient
// dir; a flow captured mid-stream (no SYN seen) keeps whichever direction
// was observed first, a deliberate simplification documented in DESIGN.md.
func (s *tcpStream) ReassembledSG(sg reassembly.ScatterGather, ac reassembly.AssemblerContext) {
	dir, _, _, skip := sg.Info()
	length, _ := sg.Lengths()
	if skip < 0 {
		skip = 0
	}
	if length == 0 {
		return
	}
	data := sg.Fetch(length)

	s.mu.Lock()
	ts := ac.GetCaptureInfo().Timestamp
	s.lastActivity = ts
	isClient := dir == s.clientDir
	s.mu.Unlock()
	s.touchTable()

	if isClient {
		s.reqParser.Feed(data, ts)
	} else {
		s.respParser.Feed(data, ts)
	}
}

// ReassemblyComplete implements reassembly.Stream: finalize both directions
// and flush any pending transaction, mirroring the teacher's behavior of
// closing both httpReader channels (sniffer.go).
func (s *tcpStream) ReassemblyComplete(ac reassembly.AssemblerContext) bool {
	s.Close("fin")
	return false
}

// touchTable moves this stream to the front of the table's LRU list so
// eviction reflects last-byte activity rather than insertion order.
func (s *tcpStream) touchTable() {
	if s.table != nil {
		s.table.Touch(s.key)
	}
}

func flowKeyFromFlow(netFlow, transport gopacket.Flow) flow.Key {
	a := endpointFromFlow(netFlow, transport, true)
	b := endpointFromFlow(netFlow, transport, false)
	return flow.NewKey(a, b)
}

func endpointFromFlow(netFlow, transport gopacket.Flow, src bool) flow.Endpoint {
	var ipBytes, portBytes []byte
	if src {
		ipBytes = netFlow.Src().Raw()
		portBytes = transport.Src().Raw()
	} else {
		ipBytes = netFlow.Dst().Raw()
		portBytes = transport.Dst().Raw()
	}
	ip := net.IP(ipBytes)
	port := uint16(0)
	if len(portBytes) == 2 {
		port = uint16(portBytes[0])<<8 | uint16(portBytes[1])
	}
	return flow.NewEndpoint(ip, port)
}
