// Package secret encrypts mail account passwords at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	keySalt = "crm-email-salt"
	ivSize  = 16
	tagSize = 16
)

var (
	ErrMissingKey    = errors.New("ENCRYPTION_KEY environment variable is required")
	ErrInvalidFormat = errors.New("Invalid encrypted text format")
)

// Cipher is AES-256-GCM keyed by scrypt(ENCRYPTION_KEY). Values are encoded
// as ivhex:taghex:cipherhex.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(keySalt), 16384, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidFormat
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}
	plain, err := c.aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
