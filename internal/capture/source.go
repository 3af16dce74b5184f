package capture

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// ErrKind discriminates fatal startup failures from the exit codes spec §6
// assigns them.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrCaptureOpen
	ErrUnsupportedLinkLayer
)

// OpenError carries the classification spec §7 requires: CaptureOpen or
// UnsupportedLinkLayer are fatal, everything else is recovered locally.
type OpenError struct {
	Kind ErrKind
	Err  error
}

func (e *OpenError) Error() string { return e.Err.Error() }
func (e *OpenError) Unwrap() error { return e.Err }

// OpenFile opens an offline capture file for reading (spec §6 "file -p").
func OpenFile(path string) (*pcap.Handle, error) {
	h, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: fmt.Errorf("opening capture file %s: %w", path, err)}
	}
	return h, nil
}

// OpenLive opens a live interface for capture (spec §6 "live -i [-f bpf]").
func OpenLive(iface string, bpf string) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: fmt.Errorf("preparing interface %s: %w", iface, err)}
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(65536); err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: err}
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: err}
	}
	if err := inactive.SetTimeout(pcapReadTimeout); err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: err}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, &OpenError{Kind: ErrCaptureOpen, Err: fmt.Errorf("activating interface %s: %w", iface, err)}
	}

	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, &OpenError{Kind: ErrCaptureOpen, Err: fmt.Errorf("applying BPF filter %q: %w", bpf, err)}
		}
	}
	return handle, nil
}

// decoderFor resolves the gopacket decoder for the handle's link type (spec
// §6: unsupported link layers are fatal at startup).
func decoderFor(handle *pcap.Handle) (gopacket.Decoder, error) {
	name := handle.LinkType().String()
	dec, ok := gopacket.DecodersByLayerName[name]
	if !ok {
		return nil, &OpenError{Kind: ErrUnsupportedLinkLayer, Err: fmt.Errorf("unsupported link layer %s", name)}
	}
	return dec, nil
}

// ListDevices enumerates capture-capable interfaces (the supplemented
// `list` subcommand, restored from original_source/src/main.rs).
func ListDevices() ([]string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names, nil
}
