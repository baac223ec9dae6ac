// Package video reads the FLV video tag header that prefixes every RTMP video message.
package video

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// Header returns the frame type and codec stored in the first byte.
func Header(payload []byte) (FrameType, Codec, bool) {
	if len(payload) < 1 {
		return 0, 0, false
	}
	return FrameType(payload[0] >> 4), Codec(payload[0] & 0x0F), true
}

// IsSequenceHeader reports whether payload is an AVC sequence header (AVCDecoderConfigurationRecord).
func IsSequenceHeader(payload []byte) bool {
	_, codec, ok := Header(payload)
	return ok && codec == H264 && len(payload) >= 2 && AVCPacketType(payload[1]) == AVCSequenceHeader
}

// IsKeyFrame reports whether payload holds a key frame.
func IsKeyFrame(payload []byte) bool {
	frameType, _, ok := Header(payload)
	return ok && frameType == KeyFrame
}
