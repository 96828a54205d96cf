//go:build !integration

package security_test

import (
	"strings"
	"testing"

	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/infra/security"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptionService(t *testing.T) {
	svc, err := security.NewEncryptionService(testKey)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	t.Run("contact snapshot round trip hides PII", func(t *testing.T) {
		c := model.ContactSnapshot{Name: "Kim", Email: "kim@example.com", Phone: "+821000000000"}
		sealed, err := svc.EncryptContact(c)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if strings.Contains(sealed, "kim@example.com") {
			t.Error("ciphertext leaks the email")
		}
		got, err := svc.DecryptContact(sealed)
		if err != nil || got != c {
			t.Errorf("round trip mismatch: %+v %v", got, err)
		}
	})

	t.Run("nonce differs per message", func(t *testing.T) {
		c := model.ContactSnapshot{Email: "same@example.com"}
		a, _ := svc.EncryptContact(c)
		b, _ := svc.EncryptContact(c)
		if a == b {
			t.Error("two encryptions must not be identical")
		}
	})

	t.Run("tampering is detected", func(t *testing.T) {
		sealed, _ := svc.EncryptContact(model.ContactSnapshot{Email: "secret@example.com"})
		b := []byte(sealed)
		b[len(b)-3] ^= 0x01
		if _, err := svc.DecryptContact(string(b)); err == nil {
			t.Error("expected an error for tampered ciphertext")
		}
	})

	t.Run("bad key length is rejected", func(t *testing.T) {
		if _, err := security.NewEncryptionService("short"); err == nil {
			t.Error("expected key length error")
		}
	})
}
