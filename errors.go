package rtmp

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// Errors ending a session. Lower level errors (handshake, chunk decoding, message parsing, I/O) are wrapped
// with the stage they happened in and can be matched with errors.Is against the sentinels of their package.
var (
	ErrUnknownStreamID       = errors.New("unknown stream id")
	ErrPublisherDisconnected = errors.New("publisher disconnected")
	ErrTimeout               = errors.New("timeout")
	ErrNoAppName             = errors.New("no app name")
	ErrNoStreamName          = errors.New("no stream name")
	ErrPublishRequestDenied  = errors.New("publish request denied")
	ErrConnectRequestDenied  = errors.New("connect request denied")
	ErrPlayNotSupported      = errors.New("play not supported")
	ErrPublisherDropped      = errors.New("publisher dropped")
	ErrInvalidChunkSize      = errors.New("invalid chunk size")
)

// IsClientClosed reports whether err means the client went away (end of stream, reset or aborted
// connection, timeout) rather than a protocol violation.
func IsClientClosed(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		io.EOF,
		io.ErrUnexpectedEOF,
		io.ErrClosedPipe,
		net.ErrClosed,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transportError wraps an error returned by the connection, turning deadline expirations into ErrTimeout.
func transportError(err error, stage string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, stage)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Wrapf(err, "io error: %s", stage)
}
