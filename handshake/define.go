// Package handshake implements the server side of the RTMP handshake, both the simple echo scheme and the
// digest-verified complex scheme used by Flash Player and most encoders.
package handshake

/*
 * Complex handshake, C1/S1 layout (1536 bytes):
 *
 *   schema0: time(4) version(4) key-block(764) digest-block(764)
 *   schema1: time(4) version(4) digest-block(764) key-block(764)
 *
 * digest-block: offset(4) random(offset) digest(32) random(764-4-offset-32)
 *
 * The digest is HMAC-SHA256 over the whole packet minus the 32 digest bytes, keyed with the partial key of
 * the peer that wrote it. S2's trailing digest is keyed with HMAC-SHA256(server full key, C1 digest).
 */

const (
	// Version is the only protocol version accepted in C0 and sent in S0.
	Version byte = 3

	// PacketSize is the size of C1, C2, S1 and S2.
	PacketSize = 1536

	// DigestLength is the size of an HMAC-SHA256 digest.
	DigestLength = 32

	// digestBlockSize is the size of each of the two 764-byte blocks following time and version.
	digestBlockSize = 764

	// digestOffsetModulo bounds the digest offset so the digest always fits in its block.
	digestOffsetModulo = 728
)

var (
	ServerKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1',

		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	ServerFullKey    = ServerKey
	ServerPartialKey = ServerKey[:36]

	ClientKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1',

		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	ClientFullKey    = ClientKey
	ClientPartialKey = ClientKey[:30]

	// ServerVersion is written in the version field of a complex S1.
	ServerVersion = []byte{0x0D, 0x0E, 0x0A, 0x0D}

	// ClientVersion is what Flash Player writes in the version field of C1.
	ClientVersion = []byte{0x0C, 0x00, 0x0D, 0x0E}
)

// Schema tells where the digest block sits inside a C1/S1 packet.
type Schema uint8

const (
	// Schema0 places the key block first and the digest block second.
	Schema0 Schema = iota
	// Schema1 places the digest block right after time and version.
	Schema1
)

func (s Schema) String() string {
	switch s {
	case Schema0:
		return "schema0"
	case Schema1:
		return "schema1"
	}
	return "unknown"
}

// base returns the position of the 4 offset bytes of the digest block.
func (s Schema) base() int {
	if s == Schema0 {
		return 8 + digestBlockSize
	}
	return 8
}

// State is the progress of a server handshake. It only moves forward.
type State uint8

const (
	Uninitialized State = iota
	// VersionSent is never entered by the server: S0 is only written together with S1 and S2.
	VersionSent
	AckSent
	Finish
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case VersionSent:
		return "version sent"
	case AckSent:
		return "ack sent"
	case Finish:
		return "finish"
	}
	return "unknown"
}

// Scheme is the handshake flavor negotiated from C1.
type Scheme uint8

const (
	SchemeUnknown Scheme = iota
	SchemeSimple
	SchemeComplex
)

func (s Scheme) String() string {
	switch s {
	case SchemeSimple:
		return "simple"
	case SchemeComplex:
		return "complex"
	}
	return "unknown"
}
