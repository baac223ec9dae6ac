// Package message turns reassembled chunks into typed RTMP messages.
package message

import (
	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/control"
)

// Data is one of the message kinds below. The set is closed: consumers switch on the concrete type.
type Data interface {
	isData()
}

// Amf0Command is a NetConnection or NetStream command such as connect, createStream, publish or play.
type Amf0Command struct {
	Name          string
	TransactionID float64
	// CommandObject is nil when the command carried no value after the transaction id.
	CommandObject amf.Value
	Others        []amf.Value
}

// AmfData is a data message (metadata), kept encoded.
type AmfData struct {
	Data []byte
}

type SetChunkSize struct {
	ChunkSize uint32
}

type AudioData struct {
	Data []byte
}

type VideoData struct {
	Data []byte
}

type Abort struct {
	ChunkStreamID uint32
}

type Acknowledgement struct {
	SequenceNumber uint32
}

type WindowAcknowledgementSize struct {
	Size uint32
}

type SetPeerBandwidth struct {
	Size      uint32
	LimitType control.LimitType
}

type UserControl struct {
	Event control.Event
	Data  []byte
}

func (*Amf0Command) isData()               {}
func (*AmfData) isData()                   {}
func (*SetChunkSize) isData()              {}
func (*AudioData) isData()                 {}
func (*VideoData) isData()                 {}
func (*Abort) isData()                     {}
func (*Acknowledgement) isData()           {}
func (*WindowAcknowledgementSize) isData() {}
func (*SetPeerBandwidth) isData()          {}
func (*UserControl) isData()               {}
