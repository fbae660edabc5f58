// Package scram implements the Salted Challenge Response Authentication
// Mechanism (RFC 5802) client and server roles on top of a pluggable digest,
// with channel binding fixed to absent ("n,,...") as required by spec.
//
// The iterated key derivation is done with golang.org/x/crypto/pbkdf2 (a
// dependency the teacher already carries for TLS/crypto plumbing elsewhere)
// rather than a hand-rolled loop — every SCRAM implementation in the
// retrieval pack that isn't vendoring a full SASL library does the same.
package scram

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Mechanism is a stateless cryptographic kernel parameterized by a digest
// and its HMAC, as specified for ScramMechanism.
type Mechanism struct {
	// Name is the SASL mechanism name, e.g. "SCRAM-SHA-1".
	Name string
	// New returns a fresh instance of the underlying digest.
	New func() hash.Hash
}

// SHA1 is the SCRAM-SHA-1 mechanism.
var SHA1 = Mechanism{Name: "SCRAM-SHA-1", New: sha1.New}

// SHA256 is the SCRAM-SHA-256 mechanism.
var SHA256 = Mechanism{Name: "SCRAM-SHA-256", New: sha256.New}

// SHA512 is the SCRAM-SHA-512 mechanism.
var SHA512 = Mechanism{Name: "SCRAM-SHA-512", New: sha512.New}

// ByName returns the built-in Mechanism with the given SASL name, and
// whether it was found.
func ByName(name string) (Mechanism, bool) {
	for _, m := range []Mechanism{SHA256, SHA1, SHA512} {
		if m.Name == name {
			return m, true
		}
	}
	return Mechanism{}, false
}

func (m Mechanism) hmac(key, msg []byte) []byte {
	h := hmac.New(m.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// SaltedPassword derives the salted password via an iterated HMAC
// construction equivalent to PBKDF2 with the mechanism's HMAC; the output
// length equals the digest length.
func (m Mechanism) SaltedPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, m.New().Size(), m.New)
}

// ClientKey derives HMAC(saltedPassword, "Client Key").
func (m Mechanism) ClientKey(saltedPassword []byte) []byte {
	return m.hmac(saltedPassword, []byte("Client Key"))
}

// ServerKey derives HMAC(saltedPassword, "Server Key").
func (m Mechanism) ServerKey(saltedPassword []byte) []byte {
	return m.hmac(saltedPassword, []byte("Server Key"))
}

// StoredKey derives H(clientKey).
func (m Mechanism) StoredKey(clientKey []byte) []byte {
	h := m.New()
	h.Write(clientKey)
	return h.Sum(nil)
}

// ClientSignature derives HMAC(storedKey, authMessage).
func (m Mechanism) ClientSignature(storedKey, authMessage []byte) []byte {
	return m.hmac(storedKey, authMessage)
}

// ServerSignature derives HMAC(serverKey, authMessage).
func (m Mechanism) ServerSignature(serverKey, authMessage []byte) []byte {
	return m.hmac(serverKey, authMessage)
}

// ClientProof computes clientKey XOR clientSignature.
func ClientProof(clientKey, clientSignature []byte) []byte {
	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}
	return proof
}

// XORProof recovers clientSignature XOR proof = clientKey (used by the
// server to recompute and compare the client proof it received).
func XORProof(a, b []byte) []byte {
	return ClientProof(a, b)
}
