package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvSecretKey names the variable holding the AES-256 key for enc: values.
const EnvSecretKey = "SUBSCRIPT_SECRET_KEY"

const encryptedPrefix = "enc:"

var errInvalidCiphertext = errors.New("invalid secret ciphertext")

type secretCipher struct {
	aead cipher.AEAD
}

func newSecretCipherFromEnv() (*secretCipher, error) {
	raw := strings.TrimSpace(os.Getenv(EnvSecretKey))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", EnvSecretKey)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EnvSecretKey, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &secretCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *secretCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	buf := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (c *secretCipher) Decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}

// EncryptSecret produces an enc: value that Load will decrypt with the key in
// SUBSCRIPT_SECRET_KEY.
func EncryptSecret(plain string) (string, error) {
	c, err := newSecretCipherFromEnv()
	if err != nil {
		return "", err
	}
	sealed, err := c.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return encryptedPrefix + sealed, nil
}

// revealSecret returns plain values untouched and decrypts enc: values.
func revealSecret(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	c, err := newSecretCipherFromEnv()
	if err != nil {
		return "", err
	}
	return c.Decrypt(strings.TrimPrefix(value, encryptedPrefix))
}
