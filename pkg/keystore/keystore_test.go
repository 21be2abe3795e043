package keystore

import (
	"errors"
	"testing"
)

func TestNew_EmptySecretRejected(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty secret, got nil")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	ks, err := New("test-service-secret")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	plaintext := "7f9a1c0db2e44c5e8a6b3d2f1e0c9b8a"
	token, err := ks.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if token == plaintext {
		t.Fatal("token must not equal plaintext")
	}

	got, err := ks.Decrypt(token)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if got != plaintext {
		t.Fatalf("expected round trip to return %q, got %q", plaintext, got)
	}
}

func TestEncrypt_NoncesDiffer(t *testing.T) {
	ks, err := New("test-service-secret")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	first, err := ks.Encrypt("same-key")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	second, err := ks.Encrypt("same-key")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens for repeat encryptions")
	}
}

func TestDecrypt_InvalidTokens(t *testing.T) {
	ks, err := New("test-service-secret")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	token, err := ks.Encrypt("secret-key-material")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	// Flip a character in the middle of the token to corrupt the ciphertext.
	corrupted := []byte(token)
	mid := len(corrupted) / 2
	if corrupted[mid] == 'A' {
		corrupted[mid] = 'B'
	} else {
		corrupted[mid] = 'A'
	}

	cases := []struct {
		name  string
		token string
	}{
		{name: "not base64", token: "%%%not-base64%%%"},
		{name: "too short", token: "YWJj"},
		{name: "tampered", token: string(corrupted)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ks.Decrypt(tc.token); !errors.Is(err, ErrInvalidCiphertext) {
				t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
			}
		})
	}
}

func TestDecrypt_WrongSecretFails(t *testing.T) {
	first, err := New("secret-one")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	second, err := New("secret-two")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	token, err := first.Encrypt("private-key")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if _, err := second.Decrypt(token); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}
