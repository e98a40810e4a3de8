package webhooks

import "testing"

func TestSecretCipherEncryptDecryptRoundtrip(t *testing.T) {
	c := NewSecretCipher("a-very-secret-master-key")
	encrypted, err := c.Encrypt("hook1", "s3cr3t")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if encrypted == "s3cr3t" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	got, err := c.Decrypt("hook1", encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "s3cr3t" {
		t.Fatalf("expected roundtrip to recover plaintext, got %q", got)
	}
}

func TestSecretCipherDecryptFailsForWrongWebhookID(t *testing.T) {
	c := NewSecretCipher("a-very-secret-master-key")
	encrypted, err := c.Encrypt("hook1", "s3cr3t")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c.Decrypt("hook2", encrypted); err == nil {
		t.Fatal("expected decryption to fail for a different webhook id")
	}
}

func TestNewSecretCipherReturnsNilForEmptyKey(t *testing.T) {
	if c := NewSecretCipher(""); c != nil {
		t.Fatal("expected nil cipher for empty master key")
	}
}
