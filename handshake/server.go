package handshake

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/rand"
)

// Server drives the server side of a handshake. Bytes received from the client are accumulated by the
// caller in a buffer that is handed to Handshake every time more data arrives.
type Server struct {
	state  State
	scheme Scheme

	// now returns the timestamp written into S1 and S2.
	now func() uint32
}

func NewServer() *Server {
	return &Server{
		now: func() uint32 { return uint32(time.Now().Unix()) },
	}
}

func (s *Server) State() State {
	return s.state
}

// Scheme returns the scheme negotiated from C1, or SchemeUnknown before C1 has been read.
func (s *Server) Scheme() Scheme {
	return s.scheme
}

// Handshake consumes as much of input as the current state allows and writes the server's answers to
// output. Bytes are only taken out of input when a whole C0+C1 or C2 is available, so calling Handshake
// with a partial packet returns nil without side effects. Bytes following C2 are left in input.
func (s *Server) Handshake(input *bytes.Buffer, output io.Writer) error {
	for {
		switch s.state {
		case Uninitialized:
			// C0 is checked as soon as it arrives, a client may wait for S0 before sending C1.
			if input.Len() > 0 && input.Bytes()[0] != Version {
				return errors.Wrapf(ErrUnsupportedVersion, "got version %d", input.Bytes()[0])
			}
			if input.Len() < 1+PacketSize {
				return nil
			}
			c0c1 := input.Next(1 + PacketSize)
			if err := s.respond(c0c1[1:], output); err != nil {
				return err
			}
			s.state = AckSent
		case AckSent:
			if input.Len() < PacketSize {
				return nil
			}
			// C2 is only length checked, its digest is not validated.
			input.Next(PacketSize)
			s.state = Finish
		default:
			return nil
		}
	}
}

// respond writes S0, S1 and S2 for the given C1.
func (s *Server) respond(c1 []byte, output io.Writer) error {
	var s0s1s2 [1 + 2*PacketSize]byte
	s0s1s2[0] = Version
	s1 := s0s1s2[1 : 1+PacketSize]
	s2 := s0s1s2[1+PacketSize:]

	c1Timestamp := binary.BigEndian.Uint32(c1[0:4])

	clientDigest, schema, err := NewDigestProcessor(c1, ClientPartialKey).ReadDigest()
	if err == nil {
		s.scheme = SchemeComplex
		if err := s.complexS1(s1, schema); err != nil {
			return err
		}
		if err := s.complexS2(s2, c1Timestamp, clientDigest); err != nil {
			return err
		}
	} else {
		s.scheme = SchemeSimple
		if err := s.simpleS1(s1); err != nil {
			return err
		}
		s.simpleS2(s2, c1Timestamp, c1)
	}

	if _, err := output.Write(s0s1s2[:]); err != nil {
		return errors.Wrap(err, "handshake: write s0s1s2")
	}
	return nil
}

func (s *Server) simpleS1(s1 []byte) error {
	binary.BigEndian.PutUint32(s1[0:4], s.now())
	binary.BigEndian.PutUint32(s1[4:8], 0)
	return rand.Fill(s1[8:])
}

func (s *Server) simpleS2(s2 []byte, c1Timestamp uint32, c1 []byte) {
	binary.BigEndian.PutUint32(s2[0:4], c1Timestamp)
	binary.BigEndian.PutUint32(s2[4:8], s.now())
	copy(s2[8:], c1[8:])
}

func (s *Server) complexS1(s1 []byte, schema Schema) error {
	binary.BigEndian.PutUint32(s1[0:4], s.now())
	copy(s1[4:8], ServerVersion)
	if err := rand.Fill(s1[8:]); err != nil {
		return err
	}

	left, digest, _, err := NewDigestProcessor(s1, ServerPartialKey).GenerateAndFillDigest(schema)
	if err != nil {
		return err
	}
	copy(s1[len(left):], digest)
	return nil
}

func (s *Server) complexS2(s2 []byte, c1Timestamp uint32, clientDigest []byte) error {
	binary.BigEndian.PutUint32(s2[0:4], c1Timestamp)
	binary.BigEndian.PutUint32(s2[4:8], s.now())
	if err := rand.Fill(s2[8:]); err != nil {
		return err
	}

	key, err := NewDigestProcessor(nil, ServerFullKey).MakeDigest(clientDigest, nil)
	if err != nil {
		return err
	}
	body := s2[:PacketSize-DigestLength]
	digest, err := NewDigestProcessor(nil, key).MakeDigest(body, nil)
	if err != nil {
		return err
	}
	copy(s2[len(body):], digest)
	return nil
}
