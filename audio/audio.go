// Package audio reads the FLV audio tag header that prefixes every RTMP audio message.
package audio

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711AlawLogPCM          Format = 7
	G711MulawLogPCM         Format = 8
	AAC                     Format = 10
	Speex                   Format = 11
	MP38KHz                 Format = 14
	DeviceSpecificSound     Format = 15
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// FormatOf returns the sound format stored in the upper 4 bits of the first byte.
func FormatOf(payload []byte) (Format, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return Format(payload[0] >> 4), true
}

// IsSequenceHeader reports whether payload is an AAC sequence header (AudioSpecificConfig). Players need it
// before any raw AAC frame can be decoded.
func IsSequenceHeader(payload []byte) bool {
	format, ok := FormatOf(payload)
	return ok && format == AAC && len(payload) >= 2 && AACPacketType(payload[1]) == AACSequenceHeader
}
