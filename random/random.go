// Package random generates short human-readable references.
package random

import (
	crand "crypto/rand"
	"math/big"
)

// Ambiguous glyphs (0/O, 1/I/l) are left out because references are read
// aloud to support staff.
const charset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// ShortID returns a random reference of the given length drawn from a
// cryptographic source.
func ShortID(length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		num, err := crand.Int(crand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
