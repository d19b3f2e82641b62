package bundle

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"path"
	"strings"
)

// Build identifiers are IDLength symbols from Alphabet. They are random,
// not content hashes: two builds of identical output get different ids.
// Collisions are possible (36^8 values) and are not detected.
const (
	IDLength = 8
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// IDSource supplies uniformly distributed integers in [0, n).
// *math/rand/v2.Rand satisfies it.
type IDSource interface {
	IntN(n int) int
}

// NewIDSource returns a ChaCha8 generator seeded from the operating system.
func NewIDSource() IDSource {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// SeededIDSource returns a deterministic generator for tests and
// reproducible builds.
func SeededIDSource(seed uint64) IDSource {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return rand.New(rand.NewChaCha8(s))
}

// NewBuildID draws one identifier from src.
func NewBuildID(src IDSource) string {
	var b strings.Builder
	b.Grow(IDLength)
	for i := 0; i < IDLength; i++ {
		b.WriteByte(Alphabet[src.IntN(len(Alphabet))])
	}
	return b.String()
}

// ValidBuildID reports whether id has the identifier length and alphabet.
func ValidBuildID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(Alphabet, rune(id[i])) {
			return false
		}
	}
	return true
}

// Fingerprint inserts id before the final extension of name's basename:
// "src/runtime.js" -> "runtime.ID.js". A basename without an extension,
// including a dotfile such as ".env", gets the id appended: "LICENSE.ID".
func Fingerprint(name, id string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return base + "." + id
	}
	return base[:dot] + "." + id + base[dot:]
}
