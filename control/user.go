package control

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/chunk"
)

// Event is the type of a user control message.
type Event uint16

const (
	StreamBegin      Event = 0
	StreamEOF        Event = 1
	StreamDry        Event = 2
	SetBufferLength  Event = 3
	StreamIsRecorded Event = 4
	PingRequest      Event = 6
	PingResponse     Event = 7
)

func writeUserControl(w io.Writer, e *chunk.Encoder, event Event, data []byte) error {
	payload := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(payload, uint16(event))
	payload = append(payload, data...)
	return writeControl(w, e, chunk.TypeUserControl, payload)
}

// WriteStreamBegin notifies the client that a stream became functional and can be used for communication.
func WriteStreamBegin(w io.Writer, e *chunk.Encoder, streamID uint32) error {
	return writeUserControl(w, e, StreamBegin, uint32Payload(streamID))
}

// WriteStreamEOF notifies the client that playback of the stream is over.
func WriteStreamEOF(w io.Writer, e *chunk.Encoder, streamID uint32) error {
	return writeUserControl(w, e, StreamEOF, uint32Payload(streamID))
}

// WritePingResponse answers a PingRequest with the timestamp it carried.
func WritePingResponse(w io.Writer, e *chunk.Encoder, timestamp uint32) error {
	return writeUserControl(w, e, PingResponse, uint32Payload(timestamp))
}

// ReadUserControl splits a user control message into its event type and event data.
func ReadUserControl(payload []byte) (Event, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, errors.Wrapf(ErrInvalidPayload, "user control: %d bytes", len(payload))
	}
	return Event(binary.BigEndian.Uint16(payload[0:2])), payload[2:], nil
}
