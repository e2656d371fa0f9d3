// Package crypto seals exchange credentials at rest with AES-256-GCM.
// Ciphertexts are self-describing ("v<N>:<base64>") so the key manager can
// pick the matching key after a rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// KeyBytes is the AES-256 key length.
const KeyBytes = 32

var (
	ErrBadKeyLength = errors.New("crypto: key must be 32 bytes")
	ErrMalformed    = errors.New("crypto: malformed ciphertext")
	ErrOpenFailed   = errors.New("crypto: decryption failed")
)

// boxer seals and opens strings under one key version. The AEAD is built
// once at construction, not per call.
type boxer struct {
	aead    cipher.AEAD
	version int
}

func newBoxer(key []byte, version int) (*boxer, error) {
	if len(key) != KeyBytes {
		return nil, ErrBadKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &boxer{aead: aead, version: version}, nil
}

// seal produces "v<N>:<base64(nonce||ciphertext||tag)>". The nonce is random
// per call, so sealing the same plaintext twice yields different output.
func (b *boxer) seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return "v" + strconv.Itoa(b.version) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *boxer) open(ciphertext string) (string, error) {
	_, payload, ok := splitCiphertext(ciphertext)
	if !ok {
		return "", ErrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ns := b.aead.NonceSize()
	if len(raw) <= ns {
		return "", ErrMalformed
	}
	plaintext, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// splitCiphertext parses "v<N>:<payload>". ok is false for anything else,
// including a non-numeric or non-positive version.
func splitCiphertext(s string) (version int, payload string, ok bool) {
	if !strings.HasPrefix(s, "v") {
		return 0, "", false
	}
	idx := strings.IndexByte(s, ':')
	if idx < 2 {
		return 0, "", false
	}
	v, err := strconv.Atoi(s[1:idx])
	if err != nil || v <= 0 {
		return 0, "", false
	}
	return v, s[idx+1:], true
}

// Version reports the key version a ciphertext was sealed under, or 0 when
// the envelope is malformed.
func Version(ciphertext string) int {
	v, _, ok := splitCiphertext(ciphertext)
	if !ok {
		return 0
	}
	return v
}
