// Package secret seals short credentials, such as the destination stream key,
// before they are written to a state backend.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	info    = "relay stream key v1"
	version = "v1."
)

var (
	ErrEmptyKeyMaterial = errors.New("encryption key material is empty")
	ErrMalformed        = errors.New("sealed value is malformed")
)

// Box seals with XChaCha20-Poly1305 under a key derived from operator
// supplied material with HKDF-SHA256.
type Box struct {
	aead cipher.AEAD
}

func New(material string) (*Box, error) {
	if material == "" {
		return nil, ErrEmptyKeyMaterial
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(material), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal returns "v1." followed by base64url(nonce || ciphertext).
func (b *Box) Seal(plain string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plain), []byte(version))
	return version + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or foreign values fail.
func (b *Box) Open(sealed string) (string, error) {
	if len(sealed) <= len(version) || sealed[:len(version)] != version {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(version):])
	if err != nil {
		return "", ErrMalformed
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], []byte(version))
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}
