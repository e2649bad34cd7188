// Package blob contains content-addressed blob stores.
//
// A blob is addressed by the hash of its content, so the same bytes always
// have the same address regardless of which store or peer wrote them. SetDB
// stores each snapshot of a set as a blob, then gossips the snapshot address.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// MaxSize is the maximum size of a blob.
const MaxSize = 64 << 20

var (
	// ErrNotFound is returned when no blob exists with the requested hash.
	ErrNotFound = errors.New("not found")
)

// Store is a content-addressed blob store.
type Store interface {
	// Put stores the given blob and returns its content address.
	Put(ctx context.Context, b []byte) (string, error)
	// Get returns the blob with the given content address, or ErrNotFound if
	// the blob doesn't exist.
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Hash returns the content address of the given blob, which is the hex
// encoded SHA-256 digest.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidHash returns whether s is a well formed content address, which is 64
// lowercase hex characters.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
