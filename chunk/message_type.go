package chunk

import "strconv"

// MessageType is the message type id carried in format 0 and 1 chunk headers.
type MessageType uint8

const (
	TypeSetChunkSize     MessageType = 1
	TypeAbort            MessageType = 2
	TypeAck              MessageType = 3
	TypeUserControl      MessageType = 4
	TypeWindowAckSize    MessageType = 5
	TypeSetPeerBandwidth MessageType = 6
	TypeAudio            MessageType = 8
	TypeVideo            MessageType = 9
	TypeDataAMF3         MessageType = 15
	TypeSharedObjAMF3    MessageType = 16
	TypeCommandAMF3      MessageType = 17
	TypeDataAMF0         MessageType = 18
	TypeSharedObjAMF0    MessageType = 19
	TypeCommandAMF0      MessageType = 20
	TypeAggregate        MessageType = 22
)

var messageTypeNames = map[MessageType]string{
	TypeSetChunkSize:     "SetChunkSize",
	TypeAbort:            "Abort",
	TypeAck:              "Acknowledgement",
	TypeUserControl:      "UserControl",
	TypeWindowAckSize:    "WindowAcknowledgementSize",
	TypeSetPeerBandwidth: "SetPeerBandwidth",
	TypeAudio:            "Audio",
	TypeVideo:            "Video",
	TypeDataAMF3:         "DataAMF3",
	TypeSharedObjAMF3:    "SharedObjAMF3",
	TypeCommandAMF3:      "CommandAMF3",
	TypeDataAMF0:         "DataAMF0",
	TypeSharedObjAMF0:    "SharedObjAMF0",
	TypeCommandAMF0:      "CommandAMF0",
	TypeAggregate:        "Aggregate",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}

// IsProtocolControl reports whether messages of this type must be sent on chunk stream 2 with message
// stream id 0.
func (t MessageType) IsProtocolControl() bool {
	return t >= TypeSetChunkSize && t <= TypeSetPeerBandwidth
}
