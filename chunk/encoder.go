package chunk

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/internal/binary24"
)

// Encoder splits messages into chunks no larger than its chunk size.
type Encoder struct {
	chunkSize uint32
}

func NewEncoder() *Encoder {
	return &Encoder{chunkSize: DefaultChunkSize}
}

func (e *Encoder) ChunkSize() uint32 {
	return e.chunkSize
}

// SetChunkSize changes the chunk size used for the messages written from now on. The peer must be told
// about it with a SetChunkSize message first.
func (e *Encoder) SetChunkSize(size uint32) {
	e.chunkSize = size
}

// WriteChunk writes c to w in a single Write call. The first chunk carries a format 0 header and every
// continuation a format 3 header.
func (e *Encoder) WriteChunk(w io.Writer, c *Chunk) error {
	csid := c.ChunkStreamID
	if csid < minChunkStreamID || csid > MaxChunkStreamID {
		return errors.Wrapf(ErrInvalidChunkStreamID, "chunk stream id %d", csid)
	}
	if len(c.Payload) > binary24.MaxUint24 {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(c.Payload))
	}

	chunkSize := int(e.chunkSize)
	fragments := 1
	if len(c.Payload) > chunkSize {
		fragments = (len(c.Payload) + chunkSize - 1) / chunkSize
	}
	extended := c.Timestamp >= binary24.MaxUint24

	buf := make([]byte, 0, 18+len(c.Payload)+fragments*7)
	buf = appendBasicHeader(buf, 0, csid)
	if extended {
		buf = binary24.BigEndian.AppendUint24(buf, binary24.MaxUint24)
	} else {
		buf = binary24.BigEndian.AppendUint24(buf, c.Timestamp)
	}
	buf = binary24.BigEndian.AppendUint24(buf, uint32(len(c.Payload)))
	buf = append(buf, byte(c.MessageType))
	buf = binary.LittleEndian.AppendUint32(buf, c.MessageStreamID)

	payload := c.Payload
	for i := 0; i < fragments; i++ {
		if i > 0 {
			buf = appendBasicHeader(buf, 3, csid)
		}
		if extended {
			buf = binary.BigEndian.AppendUint32(buf, c.Timestamp)
		}
		n := len(payload)
		if n > chunkSize {
			n = chunkSize
		}
		buf = append(buf, payload[:n]...)
		payload = payload[n:]
	}

	_, err := w.Write(buf)
	return err
}

func appendBasicHeader(b []byte, format uint8, csid uint32) []byte {
	fmtBits := format << 6
	switch {
	case csid < 64:
		return append(b, fmtBits|byte(csid))
	case csid < 320:
		return append(b, fmtBits, byte(csid-64))
	default:
		return append(b, fmtBits|1, byte(csid-64), byte((csid-64)>>8))
	}
}
