/**
 * @description
 * This package encrypts chain-address private keys at rest. The symmetric key
 * is derived from the service secret with SHA3-256 and used with AES-GCM, so
 * ciphertexts are authenticated and safe to store alongside the address.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go crypto.
 * - golang.org/x/crypto/sha3: Key derivation from the service secret.
 */

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Keystore encrypts and decrypts private key material with a secret-derived key.
type Keystore struct {
	aead cipher.AEAD
}

// New derives the encryption key from the service secret.
func New(secret string) (*Keystore, error) {
	if secret == "" {
		return nil, errors.New("keystore secret must not be empty")
	}

	key := sha3.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Keystore{aead: aead}, nil
}

// Encrypt seals the plaintext and returns a base64 token embedding the nonce.
func (k *Keystore) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (k *Keystore) Decrypt(token string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := k.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := k.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
