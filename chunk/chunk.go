// Package chunk implements the RTMP chunk stream: splitting messages into chunks on the way out and
// reassembling them, with header compression, on the way in.
package chunk

// Chunk stream ids used by the server when writing messages.
const (
	ProtocolControlChunkStreamID uint32 = 2
	CommandChunkStreamID         uint32 = 3
	AudioChunkStreamID           uint32 = 4
	DataChunkStreamID            uint32 = 5
	VideoChunkStreamID           uint32 = 7
)

const (
	// DefaultChunkSize is the maximum payload carried by one chunk until a SetChunkSize message says otherwise.
	DefaultChunkSize uint32 = 128

	minChunkStreamID uint32 = 2
	// MaxChunkStreamID is the largest id the 3 byte basic header can express.
	MaxChunkStreamID uint32 = 65599
)

// Size in bytes of the message header for each chunk format.
var messageHeaderSizes = [4]int{11, 7, 3, 0}

type BasicHeader struct {
	// Format selects which message header follows: 0 is a full header, 1 omits the message stream id, 2 only
	// carries a timestamp delta and 3 carries nothing.
	Format        uint8
	ChunkStreamID uint32
}

type MessageHeader struct {
	// Timestamp is always absolute, deltas from format 1 to 3 headers are already applied.
	Timestamp       uint32
	MessageLength   uint32
	MessageType     MessageType
	MessageStreamID uint32
}

// Chunk is a complete message as seen by the chunk stream: the headers of its first chunk and the whole
// reassembled payload.
type Chunk struct {
	BasicHeader
	MessageHeader
	Payload []byte
}

// New returns a Chunk ready to be written. Chunks always leave the server with a full (format 0) header.
func New(chunkStreamID uint32, timestamp uint32, messageType MessageType, messageStreamID uint32, payload []byte) *Chunk {
	return &Chunk{
		BasicHeader: BasicHeader{
			Format:        0,
			ChunkStreamID: chunkStreamID,
		},
		MessageHeader: MessageHeader{
			Timestamp:       timestamp,
			MessageLength:   uint32(len(payload)),
			MessageType:     messageType,
			MessageStreamID: messageStreamID,
		},
		Payload: payload,
	}
}
