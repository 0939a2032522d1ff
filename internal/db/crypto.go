package db

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32 // AES-256
	nonceSize        = 12 // GCM standard nonce size
	saltSize         = 16
	pbkdf2Iterations = 100000

	metaSaltKey = "seal_salt"
)

// ErrSealed is returned when a sealed value cannot be opened with the
// configured passphrase, or when no passphrase is configured at all.
var ErrSealed = errors.New("value is sealed with a different passphrase")

// Crypto seals values with AES-256-GCM under a PBKDF2 derived key
type Crypto struct {
	key []byte
}

// NewCrypto creates a crypto instance with a key derived from passphrase
func NewCrypto(passphrase string, salt []byte) *Crypto {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	return &Crypto{key: key}
}

// GenerateSalt generates a random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func (c *Crypto) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns base64(nonce || ciphertext)
func (c *Crypto) Encrypt(plaintext []byte) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt reverses Encrypt
func (c *Crypto) Decrypt(encrypted string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrSealed
	}
	return plaintext, nil
}

// loadSalt returns the store's sealing salt, creating it on first use
func (db *DB) loadSalt() ([]byte, error) {
	var encoded string
	err := db.QueryRow("SELECT value FROM storage_meta WHERE key = ?", metaSaltKey).Scan(&encoded)
	switch {
	case err == nil:
		return base64.StdEncoding.DecodeString(encoded)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := db.Exec(
		"INSERT INTO storage_meta (key, value) VALUES (?, ?)",
		metaSaltKey, base64.StdEncoding.EncodeToString(salt),
	); err != nil {
		return nil, err
	}
	return salt, nil
}
