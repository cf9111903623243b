package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"chatflow/internal/constants"
	"chatflow/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionSecretEnv = "CHATFLOW_ENCRYPTION_SECRET"
	encryptionEnableEnv = "CHATFLOW_ENABLE_ENCRYPTION"

	// sealedPrefix marks values written by fieldCipher. Unprefixed values
	// predate encryption being enabled and are read back unchanged.
	sealedPrefix = "enc1:"

	minSecretLength = 32
)

var errCipherDisabled = errors.New("value is encrypted but encryption is disabled")

// fieldCipher seals free-text columns (draft bodies, reminder messages)
// with AES-GCM. The zero value passes text through.
type fieldCipher struct {
	aead cipher.AEAD
}

func cipherFromEnv() (*fieldCipher, error) {
	if os.Getenv(encryptionEnableEnv) != "true" {
		return &fieldCipher{}, nil
	}
	return newFieldCipher(os.Getenv(encryptionSecretEnv))
}

func newFieldCipher(secret string) (*fieldCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s is required when encryption is enabled", encryptionSecretEnv)
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters", minSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &fieldCipher{aead: aead}, nil
}

func (c *fieldCipher) enabled() bool { return c != nil && c.aead != nil }

func (c *fieldCipher) seal(plain string) (string, error) {
	if plain == "" || !c.enabled() {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (c *fieldCipher) open(stored string) (string, error) {
	encoded, sealed := strings.CutPrefix(stored, sealedPrefix)
	if !sealed {
		return stored, nil
	}
	if !c.enabled() {
		return "", errCipherDisabled
	}

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return "", fmt.Errorf("sealed value too short")
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}
