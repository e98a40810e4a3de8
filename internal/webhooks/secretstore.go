package webhooks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretCipher encrypts webhook secrets at rest. Each webhook gets its
// own AES-256-GCM key, derived from a single operator-held master key
// via HKDF keyed on the webhook's id — so the database never holds a
// plaintext secret, without requiring per-webhook key management. The
// outbound signature itself stays a plain HMAC-SHA256 over the
// decrypted secret so external recipients can still verify it with
// the plaintext secret they were issued out of band.
type SecretCipher struct {
	master []byte
}

// NewSecretCipher builds a cipher from masterKey. An empty masterKey
// disables encryption; callers should treat a nil *SecretCipher the
// same way (see Dispatcher.SetSecretCipher).
func NewSecretCipher(masterKey string) *SecretCipher {
	if masterKey == "" {
		return nil
	}
	return &SecretCipher{master: []byte(masterKey)}
}

func (c *SecretCipher) deriveKey(webhookID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, c.master, nil, []byte("webhook-secret:"+webhookID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key for webhook %s: %w", webhookID, err)
	}
	return key, nil
}

// Encrypt returns a base64-encoded nonce||ciphertext for secret, bound
// to webhookID (decrypting with a different id will fail).
func (c *SecretCipher) Encrypt(webhookID, secret string) (string, error) {
	gcm, err := c.gcmFor(webhookID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *SecretCipher) Decrypt(webhookID, encoded string) (string, error) {
	gcm, err := c.gcmFor(webhookID)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt webhook secret: %w", err)
	}
	return string(plain), nil
}

func (c *SecretCipher) gcmFor(webhookID string) (cipher.AEAD, error) {
	key, err := c.deriveKey(webhookID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
