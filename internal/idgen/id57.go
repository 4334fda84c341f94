// Package idgen generates Id-57 identifiers: a 30-character, lexicographically
// sortable id built from a base-57-encoded millisecond timestamp concatenated
// with a base-57-encoded UUID4, per the Id-57 glossary entry.
package idgen

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// alphabet excludes visually ambiguous characters (0/O, 1/I/l) to keep ids
// safe to read aloud and to copy-paste without transposition errors.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const base = int64(len(alphabet))

// timestampWidth is the fixed number of base-57 characters that encode a
// millisecond timestamp. 8 characters of base 57 cover roughly 3500 years
// from the Unix epoch, comfortably more than any deployment needs, while
// keeping the encoding fixed-width so ids sort lexicographically by time.
const timestampWidth = 8

// uuidWidth is the fixed number of base-57 characters that encode a UUID4's
// 128 bits. ceil(128 / log2(57)) = 22.
const uuidWidth = 22

func init() {
	if len(alphabet) != 57 {
		panic(fmt.Sprintf("idgen: alphabet must have 57 characters, has %d", len(alphabet)))
	}
}

// New returns a fresh Id-57 string using the current wall-clock time.
func New() string {
	return Encode(time.Now())
}

// Encode builds an Id-57 from an explicit timestamp, useful for deterministic
// tests. A fresh random UUID4 is still used for the tail.
func Encode(t time.Time) string {
	ms := t.UnixMilli()
	tsPart := encodeFixedWidth(big.NewInt(ms), timestampWidth)

	id := uuid.New()
	uuidInt := new(big.Int).SetBytes(id[:])
	uuidPart := encodeFixedWidth(uuidInt, uuidWidth)

	return tsPart + uuidPart
}

// encodeFixedWidth base-57 encodes n, left-padding with the alphabet's first
// character so every id of the same kind has identical width and preserves
// ordering.
func encodeFixedWidth(n *big.Int, width int) string {
	if n.Sign() < 0 {
		n = big.NewInt(0)
	}
	digits := make([]byte, 0, width)
	b := big.NewInt(base)
	zero := big.NewInt(0)
	rem := new(big.Int)
	cur := new(big.Int).Set(n)
	for cur.Cmp(zero) > 0 {
		cur.DivMod(cur, b, rem)
		digits = append(digits, alphabet[rem.Int64()])
	}
	for len(digits) < width {
		digits = append(digits, alphabet[0])
	}
	if len(digits) > width {
		digits = digits[:width]
	}
	// digits were appended least-significant first; reverse for the
	// conventional most-significant-first lexicographic form.
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[len(digits)-1-i] = d
	}
	return string(out)
}

// Timestamp extracts the millisecond timestamp encoded in an Id-57 string's
// first timestampWidth characters. It returns an error if id is too short or
// contains characters outside the alphabet.
func Timestamp(id string) (time.Time, error) {
	if len(id) < timestampWidth {
		return time.Time{}, fmt.Errorf("idgen: id %q shorter than timestamp width", id)
	}
	tsPart := id[:timestampWidth]
	n := big.NewInt(0)
	b := big.NewInt(base)
	for i := 0; i < len(tsPart); i++ {
		idx := indexOf(tsPart[i])
		if idx < 0 {
			return time.Time{}, fmt.Errorf("idgen: invalid character %q in id %q", tsPart[i], id)
		}
		n.Mul(n, b)
		n.Add(n, big.NewInt(int64(idx)))
	}
	return time.UnixMilli(n.Int64()), nil
}

func indexOf(c byte) int {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return i
		}
	}
	return -1
}
