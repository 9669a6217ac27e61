// Package hash provides the deterministic salted digest used for password
// and verification pin storage. Login and the verify/reset conditional
// updates look rows up BY digest, so the digest must be reproducible from
// (secret, salt) alone; per-record random salts would break those lookups.
// Security rests on the secrecy of the static salt plus the per-account
// salt input (conventionally the owning account's email).
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 4096
	keyLen     = 16 // 32 hex chars
)

type Hasher struct {
	staticSalt string
}

func New(staticSalt string) *Hasher {
	return &Hasher{staticSalt: staticSalt}
}

// Hash derives a fixed-length hex digest from secret and salt.
// Callers must always pass the owning account's email as salt so that a
// password digest and a pin digest stay scoped to one account.
func (h *Hasher) Hash(secret, salt string) string {
	key := pbkdf2.Key([]byte(secret), []byte(h.staticSalt+salt), iterations, keyLen, sha256.New)
	return hex.EncodeToString(key)
}
