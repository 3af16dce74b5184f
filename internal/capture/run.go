package capture

import (
	"context"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/reassembly"

	"mcpwatch/internal/config"
	"mcpwatch/internal/render"
)

const pcapReadTimeout = time.Second

// Options configures one Run invocation.
type Options struct {
	Config     config.Config
	Logger     *log.Logger
	FlushEvery int // flush the assembler every N packets
	SweepEvery int // check idle-timeout sweep every N packets
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 1000
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 1000
	}
	return o
}

// Run drains handle's packets through IPv4 defragmentation and TCP stream
// reassembly until ctx is canceled or the source is exhausted (EOF on a
// file, or a read error on a live interface), grounded on the teacher's
// main loop (sniffer.go's main()).
func Run(ctx context.Context, handle *pcap.Handle, opts Options, out *render.Writer) error {
	opts = opts.withDefaults()

	dec, err := decoderFor(handle)
	if err != nil {
		return err
	}

	factory := newStreamFactory(opts.Config, out)
	pool := reassembly.NewStreamPool(factory)
	assembler := reassembly.NewAssembler(pool)
	assembler.AssemblerOptions.MaxBufferedPagesPerConnection = pagesForCap(opts.Config.ReorderBufferCap)
	defragger := ip4defrag.NewIPv4Defragmenter()

	source := gopacket.NewPacketSource(handle, dec)
	source.NoCopy = true

	count := 0
	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			factory.closeAll()
			return nil
		case packet, ok := <-packets:
			if !ok {
				factory.closeAll()
				return nil
			}
			count++

			ip4Layer := packet.Layer(layers.LayerTypeIPv4)
			if ip4Layer != nil {
				ip4 := ip4Layer.(*layers.IPv4)
				origLen := ip4.Length
				newip4, err := defragger.DefragIPv4(ip4)
				if err != nil {
					opts.Logger.Printf("ipv4 defrag error: %v", err)
					continue
				}
				if newip4 == nil {
					continue // fragment, whole packet not yet assembled
				}
				if newip4.Length != origLen {
					pb, ok := packet.(gopacket.PacketBuilder)
					if ok {
						newip4.NextLayerType().Decode(newip4.Payload, pb)
					}
				}
			}

			tcpLayer := packet.Layer(layers.LayerTypeTCP)
			if tcpLayer == nil {
				continue // non-TCP packets dropped silently, spec §4.1
			}
			tcp := tcpLayer.(*layers.TCP)
			netLayer := packet.NetworkLayer()
			if netLayer == nil {
				continue
			}
			actx := &assemblerContext{ci: packet.Metadata().CaptureInfo}
			assembler.AssembleWithContext(netLayer.NetworkFlow(), tcp, actx)

			if count%opts.SweepEvery == 0 {
				factory.sweepIdle(packet.Metadata().CaptureInfo.Timestamp)
			}
			if count%opts.FlushEvery == 0 {
				ref := packet.Metadata().CaptureInfo.Timestamp
				assembler.FlushWithOptions(reassembly.FlushOptions{
					T:  ref.Add(-opts.Config.IdleTimeout),
					TC: ref.Add(-24 * time.Hour),
				})
			}
		}
	}
}

// reassemblyPageBytes mirrors gopacket/reassembly's internal per-page size,
// used only to translate spec §5's byte-denominated reorder-buffer cap into
// the page count reassembly.AssemblerOptions actually takes.
const reassemblyPageBytes = 1900

// pagesForCap converts a byte cap into a page count for
// AssemblerOptions.MaxBufferedPagesPerConnection (0 or negative means
// unlimited, matching reassembly's own "<=0 is ignored" convention).
func pagesForCap(capBytes int) int {
	if capBytes <= 0 {
		return 0
	}
	pages := capBytes / reassemblyPageBytes
	if pages < 1 {
		pages = 1
	}
	return pages
}

// assemblerContext implements reassembly.AssemblerContext, grounded on the
// teacher's Context (sniffer.go).
type assemblerContext struct {
	ci gopacket.CaptureInfo
}

func (c *assemblerContext) GetCaptureInfo() gopacket.CaptureInfo { return c.ci }
