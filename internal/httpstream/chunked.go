package httpstream

import (
	"bytes"
	"fmt"
	"strconv"
)

type chunkedState int

const (
	chunkSizeLine chunkedState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
	chunkDone
)

// chunkedDecoder implements the standard HTTP/1.1 chunked transfer decoding
// (spec §4.3): "size-hex CRLF chunk CRLF ... 0 CRLF trailer? CRLF".
type chunkedDecoder struct {
	state    chunkedState
	size     int64
	consumed int64
}

func newChunkedDecoder() *chunkedDecoder {
	return &chunkedDecoder{state: chunkSizeLine}
}

// step makes one unit of progress on pending (one framing line, or as much
// of the current chunk's data as is available), returning the number of
// bytes consumed, any body bytes decoded this step, any trailer header parsed
// this step, whether the chunked body is now complete, and an error for
// malformed framing.
type chunkStepResult struct {
	consumed int
	data     []byte
	trailer  *HeaderField
	done     bool
	err      error
}

func (c *chunkedDecoder) step(pending []byte) chunkStepResult {
	switch c.state {
	case chunkSizeLine:
		line, n := readLine(pending)
		if n < 0 {
			return chunkStepResult{}
		}
		sizeStr := line
		if i := bytes.IndexByte(line, ';'); i >= 0 {
			sizeStr = line[:i] // chunk extensions are ignored
		}
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeStr)), 16, 64)
		if err != nil || size < 0 {
			return chunkStepResult{err: fmt.Errorf("invalid chunk size %q: %w", sizeStr, err)}
		}
		c.size = size
		c.consumed = 0
		if size == 0 {
			c.state = chunkTrailer
		} else {
			c.state = chunkData
		}
		return chunkStepResult{consumed: n}

	case chunkData:
		remaining := c.size - c.consumed
		take := int64(len(pending))
		if take > remaining {
			take = remaining
		}
		c.consumed += take
		if c.consumed >= c.size {
			c.state = chunkDataCRLF
		}
		return chunkStepResult{consumed: int(take), data: pending[:take]}

	case chunkDataCRLF:
		line, n := readLine(pending)
		if n < 0 {
			return chunkStepResult{}
		}
		if len(line) != 0 {
			return chunkStepResult{err: fmt.Errorf("malformed chunk terminator")}
		}
		c.state = chunkSizeLine
		return chunkStepResult{consumed: n}

	case chunkTrailer:
		line, n := readLine(pending)
		if n < 0 {
			return chunkStepResult{}
		}
		if len(line) == 0 {
			c.state = chunkDone
			return chunkStepResult{consumed: n, done: true}
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return chunkStepResult{err: fmt.Errorf("malformed trailer %q", line)}
		}
		return chunkStepResult{consumed: n, trailer: &HeaderField{Name: name, Value: value}}

	default:
		return chunkStepResult{done: true}
	}
}

// readLine returns the line (without terminator) and the number of bytes
// including the terminator, or n=-1 if no full line is available yet.
func readLine(b []byte) ([]byte, int) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line := b[:i]
		line = bytes.TrimSuffix(line, []byte("\r"))
		return line, i + 1
	}
	return nil, -1
}

func splitHeaderLine(line []byte) (name, value string, ok bool) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	name = string(bytes.TrimSpace(line[:i]))
	value = string(bytes.TrimSpace(line[i+1:]))
	if name == "" {
		return "", "", false
	}
	return name, value, true
}
