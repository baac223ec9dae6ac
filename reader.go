package rtmp

import (
	"io"
	"sync/atomic"
)

// Reader counts the bytes read from the underlying reader, so the session knows when the peer's
// acknowledgement window is exhausted.
type Reader struct {
	reader io.Reader
	n      atomic.Uint64
}

func NewReader(reader io.Reader) *Reader {
	return &Reader{reader: reader}
}

// Read reads up to len(p) bytes from the underlying reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.n.Add(uint64(n))
	return n, err
}

// ReadBytes returns the number of bytes read so far. It is safe to call while another goroutine reads.
func (r *Reader) ReadBytes() uint64 {
	return r.n.Load()
}
