// Package secret encrypts the private fields of a StorageConfig's
// config blob at rest, keyed by the process's ENCRYPTION_SECRET
// (spec §6). Grounded on the teacher's own at-rest encryption in
// backend/crypt/cipher.go: a scrypt-derived key feeding
// nacl/secretbox, the same primitive pair rclone uses to encrypt file
// data for its crypt remote.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	nonceSize = 24
	// scrypt cost parameters, matching the teacher's backend/crypt/cipher.go Key().
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// defaultSalt mirrors the teacher's fallback: a fixed, non-secret salt
// used for every key derivation, since no salt is configurable. An
// empty ENCRYPTION_SECRET is rejected by NewBox.
var defaultSalt = []byte{0xC1, 0x0A, 0xD7, 0x53, 0x8E, 0x2F, 0x91, 0x44}

// Box derives a symmetric key from a passphrase and seals/opens
// byte blobs with it.
type Box struct {
	key [keySize]byte
}

// NewBox derives a Box's key from secret via scrypt, the same
// construction as the teacher's Cipher.Key.
func NewBox(secretPhrase string) (*Box, error) {
	if secretPhrase == "" {
		return nil, fmt.Errorf("secret: ENCRYPTION_SECRET must not be empty")
	}
	key, err := scrypt.Key([]byte(secretPhrase), defaultSalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("secret: deriving key: %w", err)
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// Seal encrypts plaintext, returning a base64-encoded nonce||ciphertext.
func (b *Box) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secret: generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret: decoding: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("secret: ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, fmt.Errorf("secret: decryption failed, wrong ENCRYPTION_SECRET or corrupted data")
	}
	return plain, nil
}
