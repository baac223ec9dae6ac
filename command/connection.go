package command

import (
	"io"

	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
)

// ConnectResponse is the content of the _result sent back for a connect command.
type ConnectResponse struct {
	TransactionID  float64
	FMSVer         string
	Capabilities   float64
	Mode           float64
	Level          string
	Code           string
	Description    string
	ObjectEncoding float64
}

// WriteConnectResponse writes _result, the transaction id, the server properties and the connection
// information.
func WriteConnectResponse(w io.Writer, e *chunk.Encoder, r ConnectResponse) error {
	properties := amf.Object(
		amf.Property{Key: "fmsVer", Value: amf.String(r.FMSVer)},
		amf.Property{Key: "capabilities", Value: amf.Number(r.Capabilities)},
		amf.Property{Key: "mode", Value: amf.Number(r.Mode)},
	)
	information := amf.Object(
		amf.Property{Key: "level", Value: amf.String(r.Level)},
		amf.Property{Key: "code", Value: amf.String(r.Code)},
		amf.Property{Key: "description", Value: amf.String(r.Description)},
		amf.Property{Key: "objectEncoding", Value: amf.Number(r.ObjectEncoding)},
	)
	return writeCommand(w, e, 0, amf.String(Result), amf.Number(r.TransactionID), properties, information)
}

// WriteConnectError rejects a connect command.
func WriteConnectError(w io.Writer, e *chunk.Encoder, transactionID float64, code, description string) error {
	return writeCommand(w, e, 0,
		amf.String(Error), amf.Number(transactionID), amf.Null(), statusObject(LevelError, code, description))
}

// WriteCreateStreamResponse hands the id of a newly created stream to the client.
func WriteCreateStreamResponse(w io.Writer, e *chunk.Encoder, transactionID float64, streamID uint32) error {
	return writeCommand(w, e, 0, amf.String(Result), amf.Number(transactionID), amf.Null(), amf.Number(float64(streamID)))
}

// WriteResult writes an empty _result, used to acknowledge commands such as releaseStream.
func WriteResult(w io.Writer, e *chunk.Encoder, transactionID float64) error {
	return writeCommand(w, e, 0, amf.String(Result), amf.Number(transactionID), amf.Null())
}
