package anchor

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex sha256 of a sealed envelope. The hash covers
// the full compact serialization, signature included, so a fingerprint
// match proves the anchored dataset is byte-identical to what was signed.
func Fingerprint(jwtCompact string) string {
	sum := sha256.Sum256([]byte(jwtCompact))
	return hex.EncodeToString(sum[:])
}

// SubjectIDHash hashes a subject identifier for use as an opaque lookup
// key where the raw identifier must not appear.
func SubjectIDHash(subjectID string) string {
	sum := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(sum[:])
}
