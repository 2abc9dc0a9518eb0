package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"medrecord-api/internal/model"
)

const (
	keyHexLen = 64 // 32-byte key, hex encoded
	ivLen     = 16
	tagLen    = 16
)

// ErrDecryptFailed covers every decryption failure: malformed hex, wrong
// lengths, tag mismatch. Callers get no finer detail than this.
var ErrDecryptFailed = fmt.Errorf("payload decryption failed")

// ConfigError indicates the cipher key is absent or malformed. The key is
// re-read on every call, so this can surface at any time, not only at start.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "payload cipher configuration: " + e.Reason
}

// PayloadCipher does authenticated encryption of JSON payloads with
// AES-256-GCM. The key source is read and validated on each call.
type PayloadCipher struct {
	keyHex func() string
}

// NewPayloadCipher builds a cipher over the given key source. The source
// must yield a 64-character hex string (a 32-byte key).
func NewPayloadCipher(keyHex func() string) *PayloadCipher {
	return &PayloadCipher{keyHex: keyHex}
}

// Encrypt serializes plaintext to JSON and seals it under a fresh random
// 16-byte IV. The IV is generated inside this call and never reused.
func (c *PayloadCipher) Encrypt(plaintext any) (model.EncryptedEnvelope, error) {
	aead, err := c.aead()
	if err != nil {
		return model.EncryptedEnvelope{}, err
	}

	data, err := json.Marshal(plaintext)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("serialize payload: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, data, nil)
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return model.EncryptedEnvelope{
		Data:    hex.EncodeToString(ciphertext),
		IV:      hex.EncodeToString(iv),
		AuthTag: hex.EncodeToString(tag),
	}, nil
}

// Decrypt verifies the authentication tag and returns the plaintext JSON.
// Any tampering with ciphertext, IV, or tag yields ErrDecryptFailed; no
// partial plaintext is ever released.
func (c *PayloadCipher) Decrypt(envelope model.EncryptedEnvelope) (json.RawMessage, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}

	ciphertext, err := hex.DecodeString(envelope.Data)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	iv, err := hex.DecodeString(envelope.IV)
	if err != nil || len(iv) != ivLen {
		return nil, ErrDecryptFailed
	}
	tag, err := hex.DecodeString(envelope.AuthTag)
	if err != nil || len(tag) != tagLen {
		return nil, ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	if !json.Valid(plaintext) {
		return nil, ErrDecryptFailed
	}
	return json.RawMessage(plaintext), nil
}

func (c *PayloadCipher) aead() (cipher.AEAD, error) {
	raw := c.keyHex()
	if len(raw) != keyHexLen {
		return nil, &ConfigError{Reason: "key must be 64 hex characters"}
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, &ConfigError{Reason: "key is not valid hex"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &ConfigError{Reason: "cannot initialize cipher"}
	}

	// GCM with the 16-byte IV the wire format carries.
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, &ConfigError{Reason: "cannot initialize gcm"}
	}
	return aead, nil
}
