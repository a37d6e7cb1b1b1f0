// Package credentials resolves the API key for a (provider, user) pair:
// user-stored BYOK key first, account-wide key second, with a bounded
// lifetime in-memory cache over the decrypt-on-read path.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// Cipher is the encryption-at-rest contract. The resolver treats ciphertext
// and salt as inert bytes; key derivation and the algorithm are this
// boundary's business.
type Cipher interface {
	Encrypt(plaintext, userID string, salt []byte) ([]byte, error)
	Decrypt(ciphertext []byte, userID string, salt []byte) (string, error)
	NewSalt() ([]byte, error)
}

const saltSize = 16

// AESCipher implements Cipher with AES-256-GCM. The per-record key is
// derived from the process secret, the user id, and the record salt, so a
// leaked ciphertext cannot be decrypted for a different user.
type AESCipher struct {
	secret string
}

// NewAESCipher creates a cipher from the process encryption secret.
func NewAESCipher(secret string) (*AESCipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret cannot be empty")
	}
	return &AESCipher{secret: secret}, nil
}

// deriveKey produces the 32-byte AES key for one record.
func (c *AESCipher) deriveKey(userID string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(c.secret))
	h.Write([]byte(userID))
	h.Write(salt)
	return h.Sum(nil)
}

// Encrypt seals plaintext; the nonce is prepended to the ciphertext.
func (c *AESCipher) Encrypt(plaintext, userID string, salt []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.deriveKey(userID, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *AESCipher) Decrypt(ciphertext []byte, userID string, salt []byte) (string, error) {
	block, err := aes.NewCipher(c.deriveKey(userID, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// NewSalt generates a random per-record salt.
func (c *AESCipher) NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
