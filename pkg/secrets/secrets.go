// Package secrets seals gateway credentials so they can sit in .env files and
// deployment manifests without being readable.
//
// A sealed value looks like ENC[v2]:<base64(nonce|ciphertext)>. The version
// selects the key, which lets keys rotate while old values still open.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a raw key.
const KeySize = chacha20poly1305.KeySize

const maxVersions = 9

var (
	ErrNoKey          = errors.New("secrets: no key configured")
	ErrMalformed      = errors.New("secrets: malformed sealed value")
	ErrUnknownVersion = errors.New("secrets: key version not loaded")
	ErrOpenFailed     = errors.New("secrets: value could not be opened")
)

// Keyring holds one AEAD per key version and seals with the newest.
type Keyring struct {
	current int
	aeads   map[int]cipher.AEAD
}

// NewKeyring builds a keyring from raw keys indexed by version (>= 1).
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, ErrNoKey
	}
	kr := &Keyring{aeads: make(map[int]cipher.AEAD, len(keys))}
	for v, key := range keys {
		if v < 1 {
			return nil, fmt.Errorf("secrets: invalid key version %d", v)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, errors.Wrapf(err, "secrets: key v%d", v)
		}
		kr.aeads[v] = aead
		if v > kr.current {
			kr.current = v
		}
	}
	return kr, nil
}

// KeyringFromEnv loads base64 keys from NAME (version 1) and NAME_V2..NAME_V9.
func KeyringFromEnv(name string) (*Keyring, error) {
	keys := map[int][]byte{}
	for v := 1; v <= maxVersions; v++ {
		env := name
		if v > 1 {
			env = fmt.Sprintf("%s_V%d", name, v)
		}
		raw := os.Getenv(env)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "secrets: decode %s", env)
		}
		keys[v] = key
	}
	if len(keys) == 0 {
		return nil, errors.Wrap(ErrNoKey, name)
	}
	return NewKeyring(keys)
}

// Version is the key version new values are sealed with.
func (k *Keyring) Version() int { return k.current }

// Versions lists the loaded key versions in ascending order.
func (k *Keyring) Versions() []int {
	out := make([]int, 0, len(k.aeads))
	for v := range k.aeads {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Seal encrypts plaintext with the current key.
func (k *Keyring) Seal(plaintext string) (string, error) {
	aead := k.aeads[k.current]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "secrets: nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", k.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a value produced by Seal with any loaded key version.
func (k *Keyring) Open(value string) (string, error) {
	version, payload, err := parse(value)
	if err != nil {
		return "", err
	}
	aead, ok := k.aeads[version]
	if !ok {
		return "", errors.Wrapf(ErrUnknownVersion, "v%d", version)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Rotate reseals value with the current key.
func (k *Keyring) Rotate(value string) (string, error) {
	plain, err := k.Open(value)
	if err != nil {
		return "", err
	}
	return k.Seal(plain)
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, "ENC[v")
}

// Resolve returns value unchanged unless it is sealed, in which case it is
// opened with kr.
func Resolve(kr *Keyring, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if kr == nil {
		return "", ErrNoKey
	}
	return kr.Open(value)
}

// GenerateKey returns a fresh base64 key for use in the environment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", errors.Wrap(err, "secrets: generate key")
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func parse(value string) (int, string, error) {
	if !IsSealed(value) {
		return 0, "", ErrMalformed
	}
	end := strings.Index(value, "]:")
	if end < 0 {
		return 0, "", ErrMalformed
	}
	var version int
	if _, err := fmt.Sscanf(value[len("ENC[v"):end], "%d", &version); err != nil || version < 1 {
		return 0, "", ErrMalformed
	}
	return version, value[end+2:], nil
}
