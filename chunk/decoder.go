package chunk

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/internal/binary24"
)

// streamState is what the decoder remembers about one chunk stream.
type streamState struct {
	// header is the last fully resolved header, the baseline for compressed headers.
	header MessageHeader
	// delta is the timestamp delta applied when a format 3 chunk starts a new message.
	delta uint32
	// extended is set when the last format 0 to 2 header used an extended timestamp; format 3 chunks that
	// follow it carry the extended timestamp too.
	extended bool
	// format of the first chunk of the message being assembled.
	format  uint8
	payload []byte
}

func (s *streamState) assembling() bool {
	return len(s.payload) > 0
}

// Decoder reassembles messages out of a chunk stream. A Decoder belongs to a single connection.
type Decoder struct {
	chunkSize uint32
	streams   map[uint32]*streamState
}

func NewDecoder() *Decoder {
	return &Decoder{
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*streamState),
	}
}

func (d *Decoder) ChunkSize() uint32 {
	return d.chunkSize
}

// SetChunkSize changes the maximum payload of the chunks read from now on.
func (d *Decoder) SetChunkSize(size uint32) {
	d.chunkSize = size
}

// Abort discards the partially received message on the given chunk stream.
func (d *Decoder) Abort(chunkStreamID uint32) {
	if s, ok := d.streams[chunkStreamID]; ok {
		s.payload = nil
	}
}

// ReadChunk reads chunks from buf until a message is complete and returns it. When buf runs out before
// that, it returns (nil, nil): bytes of a chunk are only removed from buf once the whole chunk is there,
// so the caller appends more data to buf and calls ReadChunk again.
func (d *Decoder) ReadChunk(buf *bytes.Buffer) (*Chunk, error) {
	for {
		c, n, err := d.readOne(buf.Bytes())
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		buf.Next(n)
		if c != nil {
			return c, nil
		}
	}
}

// readOne decodes a single chunk from the beginning of data. It returns the number of bytes the chunk
// takes, 0 if data holds only part of it, and the completed message if this chunk was its last one.
// The decoder state is only modified when a whole chunk is available.
func (d *Decoder) readOne(data []byte) (*Chunk, int, error) {
	if len(data) < 1 {
		return nil, 0, nil
	}
	format := data[0] >> 6
	csid := uint32(data[0] & 0x3F)
	pos := 1
	switch csid {
	case 0:
		if len(data) < 2 {
			return nil, 0, nil
		}
		csid = uint32(data[1]) + 64
		pos = 2
	case 1:
		if len(data) < 3 {
			return nil, 0, nil
		}
		csid = uint32(binary.LittleEndian.Uint16(data[1:3])) + 64
		pos = 3
	}

	prev, known := d.streams[csid]
	if format != 0 && !known {
		return nil, 0, errors.Wrapf(ErrUnknownReadState, "format %d on chunk stream %d", format, csid)
	}

	size := messageHeaderSizes[format]
	if len(data) < pos+size {
		return nil, 0, nil
	}

	var state streamState
	if known {
		state = *prev
	}
	header := state.header
	h := data[pos : pos+size]
	pos += size

	var timestamp uint32
	switch format {
	case 0:
		timestamp = binary24.BigEndian.Uint24(h[0:3])
		header.MessageLength = binary24.BigEndian.Uint24(h[3:6])
		header.MessageType = MessageType(h[6])
		header.MessageStreamID = binary.LittleEndian.Uint32(h[7:11])
	case 1:
		timestamp = binary24.BigEndian.Uint24(h[0:3])
		header.MessageLength = binary24.BigEndian.Uint24(h[3:6])
		header.MessageType = MessageType(h[6])
	case 2:
		timestamp = binary24.BigEndian.Uint24(h[0:3])
	}
	if format != 3 {
		state.extended = timestamp == binary24.MaxUint24
	}
	if state.extended {
		if len(data) < pos+4 {
			return nil, 0, nil
		}
		// Format 3 chunks repeat the extended timestamp of the header they continue.
		if format != 3 {
			timestamp = binary.BigEndian.Uint32(data[pos : pos+4])
		}
		pos += 4
	}

	switch format {
	case 0:
		header.Timestamp = timestamp
		state.delta = timestamp
	case 1, 2:
		header.Timestamp += timestamp
		state.delta = timestamp
	case 3:
		if !state.assembling() {
			header.Timestamp += state.delta
		}
	}

	if format != 3 || !state.assembling() {
		// A full header interrupts whatever was being assembled on this chunk stream.
		state.payload = nil
		state.format = format
	}

	remaining := header.MessageLength - uint32(len(state.payload))
	if remaining > d.chunkSize {
		remaining = d.chunkSize
	}
	if len(data) < pos+int(remaining) {
		return nil, 0, nil
	}
	fragment := data[pos : pos+int(remaining)]
	pos += int(remaining)

	state.header = header
	state.payload = append(state.payload, fragment...)
	if !known {
		prev = &streamState{}
		d.streams[csid] = prev
	}

	if uint32(len(state.payload)) < header.MessageLength {
		*prev = state
		return nil, pos, nil
	}

	payload := state.payload
	if payload == nil {
		payload = []byte{}
	}
	state.payload = nil
	*prev = state

	return &Chunk{
		BasicHeader: BasicHeader{
			Format:        state.format,
			ChunkStreamID: csid,
		},
		MessageHeader: header,
		Payload:       payload,
	}, pos, nil
}
