// Package rand provides the randomness used by the server: cryptographically-safe bytes for handshake
// packets and unique session identifiers.
package rand

import (
	cryptoRand "crypto/rand"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Reader is the source of random bytes used to fill handshake packets.
var Reader io.Reader = cryptoRand.Reader

// Fill fills b with cryptographically-safe random data.
func Fill(b []byte) error {
	if _, err := io.ReadFull(Reader, b); err != nil {
		return errors.Wrap(err, "rand: fill")
	}
	return nil
}

// SessionID returns a new UUID in string format (including hyphens), used to tell sessions apart in logs
// and in the stream registry.
func SessionID() string {
	return uuid.NewString()
}
