// Package command writes the NetConnection and NetStream replies of the server: connect and createStream
// results, onStatus notifications and the related data messages.
package command

import (
	"bytes"
	"io"

	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
)

// Command names.
const (
	Connect       = "connect"
	Call          = "call"
	Close         = "close"
	CreateStream  = "createStream"
	DeleteStream  = "deleteStream"
	CloseStream   = "closeStream"
	ReleaseStream = "releaseStream"
	FCPublish     = "FCPublish"
	FCUnpublish   = "FCUnpublish"
	Publish       = "publish"
	Play          = "play"
	GetStreamLen  = "getStreamLength"

	Result        = "_result"
	Error         = "_error"
	OnStatus      = "onStatus"
	OnFCPublish   = "onFCPublish"
	OnFCUnpublish = "onFCUnpublish"
	SampleAccess  = "|RtmpSampleAccess"
	SetDataFrame  = "@setDataFrame"
	OnMetaData    = "onMetaData"
)

// Status levels.
const (
	LevelStatus  = "status"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Status codes.
const (
	ConnectSuccess  = "NetConnection.Connect.Success"
	ConnectRejected = "NetConnection.Connect.Rejected"

	PublishStart     = "NetStream.Publish.Start"
	PublishBadName   = "NetStream.Publish.BadName"
	UnpublishSuccess = "NetStream.Unpublish.Success"

	PlayReset           = "NetStream.Play.Reset"
	PlayStart           = "NetStream.Play.Start"
	PlayStop            = "NetStream.Play.Stop"
	PlayStreamNotFound  = "NetStream.Play.StreamNotFound"
	PlayUnpublishNotify = "NetStream.Play.UnpublishNotify"
	PlayPublishNotify   = "NetStream.Play.PublishNotify"
)

func writeCommand(w io.Writer, e *chunk.Encoder, streamID uint32, values ...amf.Value) error {
	var payload bytes.Buffer
	if err := amf.Encode(&payload, values...); err != nil {
		return err
	}
	return e.WriteChunk(w, chunk.New(chunk.CommandChunkStreamID, 0, chunk.TypeCommandAMF0, streamID, payload.Bytes()))
}

func writeData(w io.Writer, e *chunk.Encoder, streamID uint32, values ...amf.Value) error {
	var payload bytes.Buffer
	if err := amf.Encode(&payload, values...); err != nil {
		return err
	}
	return e.WriteChunk(w, chunk.New(chunk.DataChunkStreamID, 0, chunk.TypeDataAMF0, streamID, payload.Bytes()))
}

func statusObject(level, code, description string) amf.Value {
	return amf.Object(
		amf.Property{Key: "level", Value: amf.String(level)},
		amf.Property{Key: "code", Value: amf.String(code)},
		amf.Property{Key: "description", Value: amf.String(description)},
	)
}
