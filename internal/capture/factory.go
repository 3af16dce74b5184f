package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"

	"mcpwatch/internal/config"
	"mcpwatch/internal/flow"
	"mcpwatch/internal/render"
)

// streamFactory implements reassembly.StreamFactory, grounded on the
// teacher's tcpStreamFactory (sniffer.go), minus the HTTP-port gate: every
// TCP flow is a candidate, since spec §4.1 has no notion of a fixed port.
type streamFactory struct {
	cfg   config.Config
	out   *render.Writer
	table *flow.Table[*tcpStream]
}

func newStreamFactory(cfg config.Config, out *render.Writer) *streamFactory {
	return &streamFactory{
		cfg:   cfg,
		out:   out,
		table: flow.NewTable[*tcpStream](cfg.FlowTableCap, cfg.IdleTimeout),
	}
}

func (f *streamFactory) New(netFlow, transport gopacket.Flow, tcp *layers.TCP, ac reassembly.AssemblerContext) reassembly.Stream {
	s := newTCPStream(netFlow, transport, tcp, f.cfg, f.out, f.table)
	if evicted, didEvict := f.table.Put(s); didEvict {
		evicted.Close("lru-eviction")
	}
	return s
}

// sweepIdle destroys flows that have had no bytes for the configured idle
// timeout (spec §5).
func (f *streamFactory) sweepIdle(now time.Time) {
	for _, s := range f.table.SweepIdle(now) {
		s.Close("idle-timeout")
	}
}

// closeAll destroys every live flow, flushing pending transactions (spec §5
// shutdown: "all live flows are destroyed").
func (f *streamFactory) closeAll() {
	for _, s := range f.table.All() {
		s.Close("shutdown")
	}
}
