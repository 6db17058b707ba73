package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoSecret is returned when the cipher is constructed without a master
// secret. Any code path needing encryption treats this as fatal at
// startup.
var ErrNoSecret = errors.New("master secret is empty")

// Cipher encrypts and decrypts provider credentials with AES-256-GCM.
//
// The 256-bit key is derived by hashing the process-wide master secret,
// so the secret itself never needs to be key-sized. Ciphertext is stored
// as "ivHex:cipherHex" with a fresh random IV per encryption; encrypting
// the same plaintext twice yields different ciphertexts.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the encryption key from the master secret.
func NewCipher(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, ErrNoSecret
	}

	key := sha256.Sum256([]byte(masterSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt returns the "ivHex:cipherHex" encoding of plaintext under a
// fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, reconstructing the IV from the stored value.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	ivHex, cipherHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", errors.New("malformed ciphertext: missing IV separator")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode IV: %w", err)
	}
	if len(iv) != c.aead.NonceSize() {
		return "", fmt.Errorf("bad IV length %d", len(iv))
	}

	sealed, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// HashAPIKey produces a one-way digest of an API key, used only for
// equality comparison during rotation. It can never be decrypted.
func HashAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	digest := sha256.Sum256([]byte(apiKey))
	return "sha256:" + hex.EncodeToString(digest[:])
}
