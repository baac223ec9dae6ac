package handshake

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/pkg/errors"
)

// DigestProcessor computes and validates the digest embedded in a C1 or S1 packet.
type DigestProcessor struct {
	data []byte
	key  []byte
}

func NewDigestProcessor(data, key []byte) *DigestProcessor {
	return &DigestProcessor{data: data, key: key}
}

// ReadDigest finds the schema whose digest validates under the processor key and returns that digest.
// Schema0 is tried first.
func (p *DigestProcessor) ReadDigest() ([]byte, Schema, error) {
	if len(p.data) < PacketSize {
		return nil, 0, ErrNotEnoughData
	}
	for _, schema := range []Schema{Schema0, Schema1} {
		if digest, ok := p.validate(schema); ok {
			return digest, schema, nil
		}
	}
	return nil, 0, ErrUnknownSchema
}

func (p *DigestProcessor) validate(schema Schema) ([]byte, bool) {
	offset, err := p.digestOffset(schema)
	if err != nil {
		return nil, false
	}
	expected, err := p.MakeDigest(p.data[:offset], p.data[offset+DigestLength:])
	if err != nil {
		return nil, false
	}
	digest := p.data[offset : offset+DigestLength]
	if !hmac.Equal(digest, expected) {
		return nil, false
	}
	return digest, true
}

// GenerateAndFillDigest computes the digest of the packet for the given schema. It returns the bytes
// before the digest slot, the digest and the bytes after the slot; the caller writes the digest between
// the two parts.
func (p *DigestProcessor) GenerateAndFillDigest(schema Schema) (left, digest, right []byte, err error) {
	if len(p.data) < PacketSize {
		return nil, nil, nil, ErrNotEnoughData
	}
	offset, err := p.digestOffset(schema)
	if err != nil {
		return nil, nil, nil, err
	}
	left, right = p.data[:offset], p.data[offset+DigestLength:]
	digest, err = p.MakeDigest(left, right)
	if err != nil {
		return nil, nil, nil, err
	}
	return left, digest, right, nil
}

// MakeDigest returns HMAC-SHA256 of left followed by right, keyed with the processor key.
func (p *DigestProcessor) MakeDigest(left, right []byte) ([]byte, error) {
	h := hmac.New(sha256.New, p.key)
	h.Write(left)
	h.Write(right)
	digest := h.Sum(nil)
	if len(digest) != DigestLength {
		return nil, errors.Wrapf(ErrDigestLengthNotCorrect, "got %d bytes", len(digest))
	}
	return digest, nil
}

func (p *DigestProcessor) digestOffset(schema Schema) (int, error) {
	base := schema.base()
	if len(p.data) < base+4 {
		return 0, ErrCannotGenerate
	}
	sum := 0
	for _, b := range p.data[base : base+4] {
		sum += int(b)
	}
	offset := sum%digestOffsetModulo + base + 4
	if offset+DigestLength > len(p.data) {
		return 0, ErrCannotGenerate
	}
	return offset, nil
}
