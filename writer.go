package rtmp

import (
	"bufio"
	"net"
	"time"
)

// Writer buffers everything written to the connection until Flush. Any write that reaches the connection
// must complete within the timeout, so a peer that stopped reading cannot hold a session forever.
type Writer struct {
	conn    net.Conn
	writer  *bufio.Writer
	timeout time.Duration
}

func NewWriter(conn net.Conn, size int, timeout time.Duration) *Writer {
	return &Writer{
		conn:    conn,
		writer:  bufio.NewWriterSize(conn, size),
		timeout: timeout,
	}
}

// Write writes the contents of p into the buffer. When p does not fit, the buffer is flushed and p may be
// written straight to the connection.
func (w *Writer) Write(p []byte) (n int, err error) {
	if len(p) > w.writer.Available() {
		if err := w.refreshDeadline(); err != nil {
			return 0, err
		}
	}
	return w.writer.Write(p)
}

// Flush writes any buffered data to the connection.
func (w *Writer) Flush() error {
	if w.writer.Buffered() == 0 {
		return nil
	}
	if err := w.refreshDeadline(); err != nil {
		return err
	}
	return w.writer.Flush()
}

func (w *Writer) refreshDeadline() error {
	if w.timeout <= 0 {
		return nil
	}
	return w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
}
