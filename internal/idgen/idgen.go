// Package idgen generates system ids for stored documents.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// idLength is the length of generated document ids.
const idLength = 16

var counter atomic.Uint64

// EncodeBase36 converts a byte slice to a base36 string of the given length,
// zero-padded on the left and truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var b strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		b.WriteByte(chars[i])
	}

	str := b.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// NewID returns a fresh document id: base36 over a SHA-256 of timestamp,
// random bytes, and a process-local counter. Collisions within one store are
// vanishingly unlikely and caught by the primary key anyway.
func NewID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	seed := fmt.Sprintf("%d|%x|%d", time.Now().UnixNano(), buf, counter.Add(1))
	sum := sha256.Sum256([]byte(seed))
	return EncodeBase36(sum[:], idLength)
}
