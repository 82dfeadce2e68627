// Package ids generates session identifiers.
package ids

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// DefaultLength is the standard length for generated IDs.
const DefaultLength = 10

// New returns a fresh unique ID of the form "<prefix>_<10 base32 chars>".
func New(prefix string) string {
	return prefix + "_" + Generate(uuid.NewString(), DefaultLength)
}

// Generate creates a deterministic, lowercase base32 ID derived from input.
func Generate(input string, length int) string {
	hash := sha256.Sum256([]byte(input))
	encoded := base32.StdEncoding.EncodeToString(hash[:])
	if length <= 0 {
		return ""
	}
	if length > len(encoded) {
		length = len(encoded)
	}
	return strings.ToLower(encoded[:length])
}
