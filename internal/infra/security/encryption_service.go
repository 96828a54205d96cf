// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"korean-tutor-billing/internal/domain/model"
)

// contactAAD binds sealed contact snapshots to their column.
var contactAAD = []byte("payment_orders.contact")

// EncryptionService seals PII at rest with AES-GCM and a random nonce per message.
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService constructs an AES-GCM service.
// Key must be 16, 24, or 32 bytes (AES-128/192/256).
func NewEncryptionService(key string) (*EncryptionService, error) {
	k := []byte(key)
	n := len(k)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

// EncryptContact seals the checkout contact snapshot stored with an order.
func (e *EncryptionService) EncryptContact(c model.ContactSnapshot) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal contact: %w", err)
	}
	return e.seal(b, contactAAD)
}

func (e *EncryptionService) DecryptContact(s string) (model.ContactSnapshot, error) {
	var c model.ContactSnapshot
	pt, err := e.open(s, contactAAD)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(pt, &c); err != nil {
		return c, fmt.Errorf("unmarshal contact: %w", err)
	}
	return c, nil
}

// seal returns base64(nonce || ciphertext).
func (e *EncryptionService) seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := e.gcm.Seal(nonce, nonce, plaintext, aad)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (e *EncryptionService) open(b64 string, aad []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
