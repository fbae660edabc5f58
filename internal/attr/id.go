// Package attr provides small helpers shared by the packages that build and
// inspect XML attributes and generate random protocol identifiers.
package attr

import (
	"crypto/rand"
	"fmt"
	"io"
)

// IDLen is the standard length, in hex characters, of stanza and IQ
// identifiers generated by this module.
const IDLen = 16

// RandomID generates a new random identifier of length IDLen. It panics if
// the system's entropy source cannot be read, which should never happen in
// practice.
func RandomID() string {
	return randomID(IDLen, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n/2)+(n&1))
	switch read, err := r.Read(b); {
	case err != nil:
		panic(err)
	case read != len(b):
		panic("attr: could not read enough randomness")
	}
	return fmt.Sprintf("%x", b)[:n]
}

// UUID4 generates a random RFC 4122 version 4 UUID, used for the resource
// binding IQ id. The pack carries no UUID library for us to wire in, so this
// is built the same way RandomID is: crypto/rand plus the version/variant bit
// twiddling RFC 4122 requires.
func UUID4() string {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic(err)
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
