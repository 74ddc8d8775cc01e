package registry

import (
	"crypto/subtle"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
)

// SecretSize is the number of random bytes in a device secret. Devices see it hex encoded.
const SecretSize = 32

// NewSecret returns a fresh device secret and the hash that is persisted in its place.
func NewSecret(random io.Reader) (string, []byte, error) {
	buf := make([]byte, SecretSize)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", nil, err
	}
	secret := hex.EncodeToString(buf)
	return secret, HashSecret(secret), nil
}

// HashSecret returns the digest stored for a device secret.
func HashSecret(secret string) []byte {
	sum := blake2b.Sum256([]byte(secret))
	return sum[:]
}

// VerifySecret compares a presented secret with a stored hash in constant time.
func VerifySecret(hash []byte, secret string) bool {
	if len(secret) != hex.EncodedLen(SecretSize) || len(hash) == 0 {
		return false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hash, HashSecret(secret)) == 1
}
