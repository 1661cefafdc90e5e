package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FingerprintLength is the length of a hex-encoded sha256 fingerprint.
const FingerprintLength = 64

// Digest identifies immutable content: a file's bytes or a serialized tree.
//
// Two digests are equal iff fingerprint and size match. Digests are derived
// from content and never assigned.
type Digest struct {
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	SizeBytes   int64  `json:"size_bytes" yaml:"size_bytes"`
}

// EmptyDigest is the digest of the empty directory tree.
var EmptyDigest = digestOf(serializeDirectory(&directory{}))

// digestOf computes the Digest of data.
func digestOf(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Fingerprint: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}
}

// String returns "fingerprint/size".
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Fingerprint, d.SizeBytes)
}

// Validate checks the digest shape. It does not check that the content exists.
func (d Digest) Validate() error {
	if len(d.Fingerprint) != FingerprintLength {
		return fmt.Errorf("invalid digest %s: fingerprint must be %d hex characters", d, FingerprintLength)
	}
	if _, err := hex.DecodeString(d.Fingerprint); err != nil {
		return fmt.Errorf("invalid digest %s: %w", d, err)
	}
	if d.SizeBytes < 0 {
		return fmt.Errorf("invalid digest %s: negative size", d)
	}
	return nil
}
