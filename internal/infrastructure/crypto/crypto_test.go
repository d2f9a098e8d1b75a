package crypto

import (
	"strings"
	"testing"
)

const testKey = "01234567890123456789012345678901" // 32 bytes for AES-256

func TestNewEncryptor_ValidKey(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatalf("NewEncryptor() failed: %v", err)
	}
	if enc == nil {
		t.Fatal("NewEncryptor() returned nil")
	}
}

func TestNewEncryptor_InvalidKeyLength(t *testing.T) {
	for _, key := range []string{"", "too-short", strings.Repeat("x", 33)} {
		if _, err := NewEncryptor(key); err != ErrInvalidKey {
			t.Errorf("NewEncryptor(len=%d) error = %v, want %v", len(key), err, ErrInvalidKey)
		}
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	plaintext := "access-sandbox-8ab976e6-64bc-4b38-98f7-731e7a349971"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	if ciphertext == plaintext {
		t.Error("Encrypt() returned plaintext")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncrypt_NoncesDiffer(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	a, _ := enc.Encrypt("same secret")
	b, _ := enc.Encrypt("same secret")
	if a == b {
		t.Error("Encrypt() produced identical ciphertexts for two calls")
	}
}

func TestEncryptDecrypt_EmptyString(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	ciphertext, err := enc.Encrypt("")
	if err != nil || ciphertext != "" {
		t.Errorf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", ciphertext, err)
	}

	plaintext, err := enc.Decrypt("")
	if err != nil || plaintext != "" {
		t.Errorf("Decrypt(\"\") = (%q, %v), want (\"\", nil)", plaintext, err)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	ciphertext, _ := enc.Encrypt("secret")
	tampered := "A" + ciphertext[1:]

	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	encA, _ := NewEncryptor(testKey)
	encB, _ := NewEncryptor("abcdefghijklmnopqrstuvwxyz012345")

	ciphertext, _ := encA.Encrypt("secret")
	if _, err := encB.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with wrong key succeeded")
	}
}
