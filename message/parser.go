package message

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
	"github.com/torresjeff/rtmpd/control"
)

var ErrInvalidData = errors.New("message: invalid data")

// Parse decodes the payload of c according to its message type. Message types the server does not handle,
// such as aggregate and shared object messages, yield (nil, nil).
func Parse(c *chunk.Chunk) (Data, error) {
	switch c.MessageType {
	case chunk.TypeCommandAMF0:
		return parseCommand(c.Payload)
	case chunk.TypeCommandAMF3:
		// AMF3 commands start with a format byte and then carry AMF0 values.
		if len(c.Payload) < 1 {
			return nil, errors.Wrap(ErrInvalidData, "empty amf3 command")
		}
		return parseCommand(c.Payload[1:])
	case chunk.TypeDataAMF0:
		return &AmfData{Data: c.Payload}, nil
	case chunk.TypeDataAMF3:
		if len(c.Payload) < 1 {
			return nil, errors.Wrap(ErrInvalidData, "empty amf3 data")
		}
		return &AmfData{Data: c.Payload[1:]}, nil
	case chunk.TypeAudio:
		return &AudioData{Data: c.Payload}, nil
	case chunk.TypeVideo:
		return &VideoData{Data: c.Payload}, nil
	case chunk.TypeSetChunkSize:
		size, err := control.ReadSetChunkSize(c.Payload)
		if err != nil {
			return nil, err
		}
		return &SetChunkSize{ChunkSize: size}, nil
	case chunk.TypeAbort:
		csid, err := control.ReadAbort(c.Payload)
		if err != nil {
			return nil, err
		}
		return &Abort{ChunkStreamID: csid}, nil
	case chunk.TypeAck:
		n, err := control.ReadAcknowledgement(c.Payload)
		if err != nil {
			return nil, err
		}
		return &Acknowledgement{SequenceNumber: n}, nil
	case chunk.TypeWindowAckSize:
		size, err := control.ReadWindowAcknowledgementSize(c.Payload)
		if err != nil {
			return nil, err
		}
		return &WindowAcknowledgementSize{Size: size}, nil
	case chunk.TypeSetPeerBandwidth:
		size, limit, err := control.ReadSetPeerBandwidth(c.Payload)
		if err != nil {
			return nil, err
		}
		return &SetPeerBandwidth{Size: size, LimitType: limit}, nil
	case chunk.TypeUserControl:
		event, data, err := control.ReadUserControl(c.Payload)
		if err != nil {
			return nil, err
		}
		return &UserControl{Event: event, Data: data}, nil
	}
	return nil, nil
}

func parseCommand(payload []byte) (*Amf0Command, error) {
	d := amf.NewDecoder(payload)

	name, err := d.DecodeString()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, err.Error())
	}
	cmd := &Amf0Command{Name: name}

	if d.Len() == 0 {
		return cmd, nil
	}
	txn, err := d.Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: transaction id", name)
	}
	var ok bool
	if cmd.TransactionID, ok = amf.AsNumber(txn); !ok {
		return nil, errors.Wrapf(ErrInvalidData, "%s: transaction id is not a number", name)
	}

	if d.Len() == 0 {
		return cmd, nil
	}
	if cmd.CommandObject, err = d.Decode(); err != nil {
		return nil, errors.Wrapf(err, "%s: command object", name)
	}

	if cmd.Others, err = d.DecodeAll(); err != nil {
		return nil, errors.Wrapf(err, "%s: arguments", name)
	}
	return cmd, nil
}
