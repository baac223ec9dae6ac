package chunk

import "github.com/pkg/errors"

var (
	// ErrUnknownReadState is returned when a chunk with a compressed header (format 1 to 3) arrives on a chunk
	// stream that never carried a full header.
	ErrUnknownReadState     = errors.New("chunk: unknown read state")
	ErrInvalidChunkStreamID = errors.New("chunk: invalid chunk stream id")
	ErrPayloadTooLarge      = errors.New("chunk: payload too large")
)
