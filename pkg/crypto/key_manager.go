package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Environment variable names for key material. Version 1 lives in
// MASTER_ENCRYPTION_KEY; later versions append _V<N>.
const masterKeyEnv = "MASTER_ENCRYPTION_KEY"

// maxKeyVersions bounds the env scan for rotated keys.
const maxKeyVersions = 10

var ErrNoKey = errors.New("crypto: " + masterKeyEnv + " is not set")

// KeyManager encrypts with the newest loaded key and decrypts with whichever
// version a ciphertext names, so rotation never strands old rows.
type KeyManager struct {
	mu      sync.RWMutex
	current int
	boxers  map[int]*boxer
}

// NewKeyManager loads base64 key material from the environment. Version 1 is
// mandatory; higher versions are picked up when present and the highest one
// becomes the sealing key.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{boxers: map[int]*boxer{}}

	if err := km.loadVersion(1, masterKeyEnv); err != nil {
		return nil, err
	}
	km.current = 1

	for v := 2; v <= maxKeyVersions; v++ {
		env := fmt.Sprintf("%s_V%d", masterKeyEnv, v)
		if os.Getenv(env) == "" {
			continue
		}
		if err := km.loadVersion(v, env); err != nil {
			return nil, err
		}
		km.current = v
	}
	return km, nil
}

func (km *KeyManager) loadVersion(version int, env string) error {
	encoded := os.Getenv(env)
	if encoded == "" {
		return ErrNoKey
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("crypto: decode %s: %w", env, err)
	}
	b, err := newBoxer(key, version)
	if err != nil {
		return fmt.Errorf("crypto: %s: %w", env, err)
	}
	km.boxers[version] = b
	return nil
}

// Encrypt seals plaintext under the newest key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.boxers[km.current].seal(plaintext)
}

// Decrypt opens a ciphertext with the key version named in its envelope.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	v := Version(ciphertext)
	if v == 0 {
		return "", ErrMalformed
	}
	km.mu.RLock()
	b, ok := km.boxers[v]
	km.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("crypto: key version %d not loaded", v)
	}
	return b.open(ciphertext)
}

// Rotate re-seals a ciphertext under the newest key version. Run over the
// credentials table after introducing a new key to retire the old one.
func (km *KeyManager) Rotate(ciphertext string) (string, error) {
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the version new ciphertexts are sealed under.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current
}

// HasVersion reports whether a key version is loaded.
func (km *KeyManager) HasVersion(version int) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.boxers[version]
	return ok
}

// GenerateKey returns a fresh random AES-256 key, base64 encoded for direct
// use in the environment.
func GenerateKey() (string, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
