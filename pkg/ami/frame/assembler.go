package frame

import "bytes"

// Delimiter terminates every frame on the management stream.
var Delimiter = []byte("\r\n\r\n")

// Assembler takes raw bytes read off the management socket and assembles them into frames.
// Bytes that do not yet form a complete frame stay buffered until the next Receive.
// An Assembler is not safe for concurrent use; the listener owns exactly one per connection.
type Assembler struct {
	buf []byte
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Receive appends buf and returns every frame completed by it, in arrival order, without the delimiter.
func (a *Assembler) Receive(buf []byte) []string {
	a.buf = append(a.buf, buf...)

	var frames []string
	for {
		idx := bytes.Index(a.buf, Delimiter)
		if idx < 0 {
			break
		}
		frames = append(frames, string(a.buf[:idx]))
		a.buf = a.buf[idx+len(Delimiter):]
	}

	if len(a.buf) == 0 {
		a.buf = nil
	}

	return frames
}

// Pending returns the number of buffered bytes that are not part of a complete frame yet.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards any partial frame, e.g. after reconnecting.
func (a *Assembler) Reset() {
	a.buf = nil
}
