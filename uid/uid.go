// Package uid generates DICOM UIDs under the 2.25 root (ISO/IEC 9834-8),
// where the suffix is the decimal form of a random UUID.
package uid

import (
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const root = "2.25."

// New returns a fresh globally unique UID of at most 64 characters.
func New() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return root + n.String()
}

var uidPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))*$`)

// Valid reports whether s is a syntactically valid UID.
func Valid(s string) bool {
	return len(s) > 0 && len(s) <= 64 && uidPattern.MatchString(s)
}
