// Package control writes and reads the protocol control messages (chunk size, acknowledgement window,
// peer bandwidth) and the user control events exchanged on chunk stream 2.
package control

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/chunk"
)

var ErrInvalidPayload = errors.New("control: invalid payload")

// LimitType tells how the peer should apply a SetPeerBandwidth message.
type LimitType uint8

const (
	LimitHard    LimitType = 0
	LimitSoft    LimitType = 1
	LimitDynamic LimitType = 2
)

// writeControl frames a protocol control message. These always travel on chunk stream 2, message stream 0.
func writeControl(w io.Writer, e *chunk.Encoder, messageType chunk.MessageType, payload []byte) error {
	return e.WriteChunk(w, chunk.New(chunk.ProtocolControlChunkStreamID, 0, messageType, 0, payload))
}

func uint32Payload(v uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), v)
}

func readUint32(payload []byte, what string) (uint32, error) {
	if len(payload) < 4 {
		return 0, errors.Wrapf(ErrInvalidPayload, "%s: %d bytes", what, len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), nil
}

// WriteSetChunkSize announces the chunk size the server uses from now on. The caller updates its encoder
// once this message is written.
func WriteSetChunkSize(w io.Writer, e *chunk.Encoder, size uint32) error {
	// the most significant bit must be zero
	return writeControl(w, e, chunk.TypeSetChunkSize, uint32Payload(size&0x7FFFFFFF))
}

func ReadSetChunkSize(payload []byte) (uint32, error) {
	size, err := readUint32(payload, "set chunk size")
	if err != nil {
		return 0, err
	}
	return size & 0x7FFFFFFF, nil
}

func WriteAbort(w io.Writer, e *chunk.Encoder, chunkStreamID uint32) error {
	return writeControl(w, e, chunk.TypeAbort, uint32Payload(chunkStreamID))
}

func ReadAbort(payload []byte) (uint32, error) {
	return readUint32(payload, "abort")
}

// WriteAcknowledgement reports the number of bytes received so far.
func WriteAcknowledgement(w io.Writer, e *chunk.Encoder, sequenceNumber uint32) error {
	return writeControl(w, e, chunk.TypeAck, uint32Payload(sequenceNumber))
}

func ReadAcknowledgement(payload []byte) (uint32, error) {
	return readUint32(payload, "acknowledgement")
}

// WriteWindowAcknowledgementSize tells the peer how many bytes it may receive before sending an
// acknowledgement.
func WriteWindowAcknowledgementSize(w io.Writer, e *chunk.Encoder, size uint32) error {
	return writeControl(w, e, chunk.TypeWindowAckSize, uint32Payload(size))
}

func ReadWindowAcknowledgementSize(payload []byte) (uint32, error) {
	return readUint32(payload, "window acknowledgement size")
}

func WriteSetPeerBandwidth(w io.Writer, e *chunk.Encoder, size uint32, limit LimitType) error {
	payload := append(uint32Payload(size), byte(limit))
	return writeControl(w, e, chunk.TypeSetPeerBandwidth, payload)
}

func ReadSetPeerBandwidth(payload []byte) (uint32, LimitType, error) {
	if len(payload) < 5 {
		return 0, 0, errors.Wrapf(ErrInvalidPayload, "set peer bandwidth: %d bytes", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), LimitType(payload[4]), nil
}
