package command

import (
	"io"

	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
)

// WriteOnStatus sends an onStatus notification about the given message stream.
func WriteOnStatus(w io.Writer, e *chunk.Encoder, streamID uint32, transactionID float64, level, code, description string) error {
	return writeCommand(w, e, streamID,
		amf.String(OnStatus), amf.Number(transactionID), amf.Null(), statusObject(level, code, description))
}

// WriteOnFCPublish answers FCPublish, which some encoders wait for before publishing.
func WriteOnFCPublish(w io.Writer, e *chunk.Encoder, streamName string) error {
	return writeCommand(w, e, 0,
		amf.String(OnFCPublish), amf.Number(0), amf.Null(),
		statusObject(LevelStatus, PublishStart, "FCPublish to stream "+streamName))
}

// WriteSampleAccess allows the player to access the raw audio and video data of the stream.
func WriteSampleAccess(w io.Writer, e *chunk.Encoder, streamID uint32) error {
	return writeData(w, e, streamID, amf.String(SampleAccess), amf.Bool(true), amf.Bool(true))
}
