package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

const (
	vaultKeySize = 32
	gcmTagSize   = 16
)

var ErrInvalidKeySize = errors.New("field encryption key must be 32 bytes")

// Vault seals sensitive fields with AES-256-GCM and produces keyed digests for
// integrity artifacts. The zero-key vault refuses to encrypt.
type Vault struct {
	aead         cipher.AEAD
	integrityKey []byte
}

func NewVault(encryptionKey, integritySecret []byte) (*Vault, error) {
	v := &Vault{integrityKey: append([]byte(nil), integritySecret...)}
	if len(encryptionKey) == 0 {
		return v, nil
	}
	if len(encryptionKey) != vaultKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	v.aead = aead
	return v, nil
}

// Encrypt seals plaintext under a fresh random IV, binding aadContext as
// additional authenticated data.
func (v *Vault) Encrypt(plaintext []byte, aadContext string) (*domain.EncryptedBlob, error) {
	if v == nil || v.aead == nil {
		return nil, apperror.ErrEncryptionFailed
	}
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, apperror.ErrEncryptionFailed.Wrap(err)
	}
	sealed := v.aead.Seal(nil, iv, plaintext, []byte(aadContext))
	split := len(sealed) - gcmTagSize
	return &domain.EncryptedBlob{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens blob under aadContext. Any authentication failure surfaces as
// apperror.ErrDecryptionFailed and must be reported as a security event by the caller.
func (v *Vault) Decrypt(blob *domain.EncryptedBlob, aadContext string) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(errors.New("no key material"))
	}
	if blob == nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(errors.New("empty blob"))
	}
	ct, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(err)
	}
	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(err)
	}
	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(err)
	}
	if len(iv) != v.aead.NonceSize() || len(tag) != gcmTagSize {
		return nil, apperror.ErrDecryptionFailed.Wrap(errors.New("malformed blob"))
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := v.aead.Open(nil, iv, sealed, []byte(aadContext))
	if err != nil {
		return nil, apperror.ErrDecryptionFailed.Wrap(err)
	}
	return plaintext, nil
}

func SignHMAC(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACConstantTime compares two digests without leaking timing.
func VerifyHMACConstantTime(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}

// LineItemTuple is the economic content of a line item covered by its
// integrity hash. Field order is the canonical serialization order.
type LineItemTuple struct {
	LineTotal domain.Cents `json:"lineTotal"`
	ProductID string       `json:"productId"`
	Quantity  int64        `json:"quantity"`
	UnitPrice domain.Cents `json:"unitPrice"`
}

// HashLineItem digests the canonical tuple followed by secret with SHA-256.
func HashLineItem(t LineItemTuple, secret []byte) string {
	canonical, _ := json.Marshal(t)
	h := sha256.New()
	h.Write(canonical)
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

func (v *Vault) HashLineItem(t LineItemTuple) string {
	return HashLineItem(t, v.integrityKey)
}

func (v *Vault) VerifyLineItem(t LineItemTuple, stored string) bool {
	return VerifyHMACConstantTime(v.HashLineItem(t), stored)
}

// Sign produces an HMAC over message with the vault's integrity secret.
func (v *Vault) Sign(message []byte) string {
	return SignHMAC(message, v.integrityKey)
}
