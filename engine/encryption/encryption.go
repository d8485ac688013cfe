// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package encryption provides at-rest encryption for stored message content.
//
// The stored form is base64(nonce) ":" base64(ciphertext), so each row is
// self-describing and keys can rotate without rewriting history: the content
// table records per row whether it is encrypted.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the encryption error class.
var Error = errs.Class("encryption")

// Encryptor encrypts and decrypts message content for storage.
type Encryptor interface {
	// Encrypt returns the stored form of plaintext.
	Encrypt(plaintext []byte) (string, error)
	// Decrypt reverses Encrypt.
	Decrypt(stored string) ([]byte, error)
	// Enabled reports whether content is actually encrypted.
	Enabled() bool
}

// NewAESGCM returns an Encryptor using AES-GCM with the given key. The key
// must be 16, 24 or 32 bytes.
func NewAESGCM(key []byte) (Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &aesgcm{aead: aead}, nil
}

type aesgcm struct {
	aead cipher.AEAD
}

func (e *aesgcm) Enabled() bool { return true }

func (e *aesgcm) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", Error.Wrap(err)
	}
	ciphertext := e.aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *aesgcm) Decrypt(stored string) ([]byte, error) {
	sep := strings.IndexByte(stored, ':')
	if sep < 0 {
		return nil, Error.New("malformed stored content")
	}
	nonce, err := base64.StdEncoding.DecodeString(stored[:sep])
	if err != nil {
		return nil, Error.Wrap(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored[sep+1:])
	if err != nil {
		return nil, Error.Wrap(err)
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return plaintext, nil
}

// Noop is a passthrough Encryptor for installations without content
// encryption.
type Noop struct{}

// Enabled implements Encryptor.
func (Noop) Enabled() bool { return false }

// Encrypt implements Encryptor.
func (Noop) Encrypt(plaintext []byte) (string, error) { return string(plaintext), nil }

// Decrypt implements Encryptor.
func (Noop) Decrypt(stored string) ([]byte, error) { return []byte(stored), nil }
