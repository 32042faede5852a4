package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
)

// HashLength is the length of a reconnection hash in hex characters.
const HashLength = 32

// HashIssuer generates reconnection hashes.
//
// A hash is hex(HMAC-SHA256(secret, connID | uid | counter | random))
// truncated to 16 bytes. Every call yields a new value, so a hash that has
// been used to reclaim a player can be retired by issuing a fresh one.
type HashIssuer struct {
	secret  []byte
	counter atomic.Uint64
}

// NewHashIssuer creates an issuer with the given secret key.
func NewHashIssuer(secret []byte) *HashIssuer {
	return &HashIssuer{secret: secret}
}

// NewRandomHashIssuer generates a fresh random secret. Hashes issued before a
// restart are still accepted, the secret only makes them unpredictable.
func NewRandomHashIssuer() (*HashIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &HashIssuer{secret: secret}, nil
}

// Issue returns a new hash for a client.
func (h *HashIssuer) Issue(connID string, uid uint64) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uid)
	binary.BigEndian.PutUint64(buf[8:16], h.counter.Add(1))
	_, _ = rand.Read(buf[16:])

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(connID))
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil)[:HashLength/2])
}

// ValidHash reports whether s has the shape of an issued hash.
func ValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// hashesEqual compares two hashes in constant time. Empty hashes never match.
func hashesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
