package hash_test

import (
	"testing"

	"github.com/prompted/mqs/internal/hash"
)

func TestFingerprintStable(t *testing.T) {
	a := hash.Fingerprint("text/plain", "", []byte("hello"))
	b := hash.Fingerprint("text/plain", "", []byte("hello"))
	if a != b {
		t.Errorf("same input produced different fingerprints: %s vs %s", a, b)
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := hash.Fingerprint("text/plain", "gzip", []byte("hello"))

	tests := []struct {
		name            string
		contentType     string
		contentEncoding string
		payload         string
	}{
		{"different payload", "text/plain", "gzip", "hello!"},
		{"different content type", "text/html", "gzip", "hello"},
		{"different encoding", "text/plain", "", "hello"},
		{"bytes shifted between fields", "text/plaing", "zip", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hash.Fingerprint(tt.contentType, tt.contentEncoding, []byte(tt.payload))
			if got == base {
				t.Errorf("fingerprint collided with base for %q/%q/%q", tt.contentType, tt.contentEncoding, tt.payload)
			}
		})
	}
}

func TestFingerprintLength(t *testing.T) {
	// base64 of a 32 byte digest
	if got := hash.Fingerprint("", "", nil); len(got) != 44 {
		t.Errorf("fingerprint length = %d, want 44", len(got))
	}
}
