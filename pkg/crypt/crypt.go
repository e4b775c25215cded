// Package crypt holds the symmetric primitive used to keep OAuth refresh
// tokens encrypted at rest. Ciphertexts are AES-256-GCM with a random nonce,
// encoded as standard base64.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

const keySize = 32

type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a base64-encoded 32-byte secret key.
func New(base64Key string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, tberrors.Wrap(err, tberrors.KindInvalidInput, "secret key is not valid base64")
	}
	if len(key) != keySize {
		return nil, tberrors.NewInvalidInput("secret key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext into a base64 ciphertext. The nonce is prepended
// to the sealed payload.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", tberrors.Wrap(err, tberrors.KindInvalidInput, "ciphertext is not valid base64")
	}
	if len(raw) < c.aead.NonceSize() {
		return "", tberrors.NewInvalidInput("ciphertext is too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", tberrors.Wrap(err, tberrors.KindInvalidInput, "could not decrypt token")
	}
	return string(plaintext), nil
}
