package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/mailsync/internal/crypto"
)

// TestEncryptionKey is a deterministic base64 AES-256 key for tests.
var TestEncryptionKey = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestEncryptor creates an encryptor with TestEncryptionKey.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}

// MustEncrypt encrypts a credential for seeding test accounts.
func MustEncrypt(t *testing.T, plaintext string) []byte {
	t.Helper()

	ciphertext, err := GetTestEncryptor(t).Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	return ciphertext
}
