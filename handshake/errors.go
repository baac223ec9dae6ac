package handshake

import "github.com/pkg/errors"

var (
	ErrUnsupportedVersion     = errors.New("handshake: unsupported rtmp version")
	ErrCannotGenerate         = errors.New("handshake: cannot generate digest")
	ErrDigestLengthNotCorrect = errors.New("handshake: digest length not correct")
	ErrUnknownSchema          = errors.New("handshake: unknown schema")
	ErrNotEnoughData          = errors.New("handshake: not enough data")
)
