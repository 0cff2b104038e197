// Package hash computes content fingerprints for message deduplication.
package hash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
)

// Fingerprint returns a stable digest over a message's content type,
// content encoding, and payload. The string fields are length-prefixed so
// that shifting bytes between fields always changes the digest.
func Fingerprint(contentType, contentEncoding string, payload []byte) string {
	h := sha256.New()
	var prefix [8]byte
	for _, field := range []string{contentType, contentEncoding} {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(field)))
		h.Write(prefix[:])
		h.Write([]byte(field))
	}
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
