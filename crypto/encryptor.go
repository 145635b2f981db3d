// Package crypto provides the Encryptor used for NFig's encrypted settings:
// a byte-transparent string->string round trip, AES-256-GCM framed as
// "ENC:v1:<contextID>:<timestamp>:<base64>", adapted directly from the
// teacher's internal/crypto.SettingsEncryptor.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nfig-dev/nfig/internal/secrets"
	"github.com/nfig-dev/nfig/internal/slogging"
)

// MaxEncryptedValueLength bounds an encrypted value so it fits common
// varchar-limited override-storage columns.
const MaxEncryptedValueLength = 4000

// ErrValueTooLong is returned when an encrypted value would exceed
// MaxEncryptedValueLength.
var ErrValueTooLong = errors.New("nfig/crypto: encrypted value exceeds maximum storage length")

// Encryptor is the byte-transparent string<->string round trip the resolver
// and stores use for encrypted settings (SPEC_FULL.md §6).
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEnabled() bool
}

// EncryptionContext tracks key version and cipher metadata carried alongside
// every encrypted value, for diagnostics and future key rotation.
type EncryptionContext struct {
	ContextID int
	Algorithm string
}

// AESGCMEncryptor encrypts and decrypts setting values using AES-256-GCM.
type AESGCMEncryptor struct {
	currentKey  []byte
	previousKey []byte // nil if no previous key configured
	context     EncryptionContext
	enabled     bool
}

var _ Encryptor = (*AESGCMEncryptor)(nil)

// NewFromProvider creates an encryptor using a secrets.Provider to source
// the encryption key material. If no key is configured, it returns a
// disabled encryptor that passes values through unchanged.
func NewFromProvider(ctx context.Context, provider secrets.Provider) (*AESGCMEncryptor, error) {
	logger := slogging.Get()

	keyHex, err := provider.GetSecret(ctx, secrets.SecretKeys.OverrideEncryptionKey)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			logger.Warn("No override encryption key configured; encrypted settings will be stored in plaintext")
			return &AESGCMEncryptor{enabled: false}, nil
		}
		return nil, fmt.Errorf("failed to retrieve override encryption key: %w", err)
	}

	currentKey, err := decodeHexKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid override encryption key: %w", err)
	}

	contextID := 1
	if cidStr, err := provider.GetSecret(ctx, secrets.SecretKeys.OverrideEncryptionContextID); err == nil {
		if parsed, err := strconv.Atoi(cidStr); err == nil && parsed > 0 {
			contextID = parsed
		} else {
			logger.Warn("Invalid override encryption context ID %q, using default 1", cidStr)
		}
	}

	enc := &AESGCMEncryptor{
		currentKey: currentKey,
		enabled:    true,
		context:    EncryptionContext{ContextID: contextID, Algorithm: "aes-256-gcm"},
	}

	prevKeyHex, err := provider.GetSecret(ctx, secrets.SecretKeys.OverrideEncryptionPreviousKey)
	if err == nil {
		prevKey, err := decodeHexKey(prevKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid override encryption previous key: %w", err)
		}
		enc.previousKey = prevKey
		logger.Info("Previous override encryption key configured for key rotation")
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("failed to retrieve override encryption previous key: %w", err)
	}

	logger.Info("Override encryption enabled (context ID: %d, algorithm: %s, previous key: %v)",
		contextID, enc.context.Algorithm, enc.previousKey != nil)

	return enc, nil
}

// NewFromKeys creates an encryptor directly from key bytes. Construction
// validates the keys by performing an encrypt-then-decrypt self-test, as
// SPEC_FULL.md §6 requires ("construction validates this").
func NewFromKeys(currentKey, previousKey []byte, contextID int) (*AESGCMEncryptor, error) {
	if len(currentKey) != 32 {
		return nil, fmt.Errorf("current key must be 32 bytes, got %d", len(currentKey))
	}
	if previousKey != nil && len(previousKey) != 32 {
		return nil, fmt.Errorf("previous key must be 32 bytes, got %d", len(previousKey))
	}
	if contextID <= 0 {
		contextID = 1
	}
	enc := &AESGCMEncryptor{
		currentKey:  currentKey,
		previousKey: previousKey,
		enabled:     true,
		context:     EncryptionContext{ContextID: contextID, Algorithm: "aes-256-gcm"},
	}

	const selfTest = "nfig-encryptor-self-test"
	ciphertext, err := enc.Encrypt(selfTest)
	if err != nil {
		return nil, fmt.Errorf("encryptor self-test failed to encrypt: %w", err)
	}
	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil || plaintext != selfTest {
		return nil, fmt.Errorf("encryptor self-test round trip failed: encrypt-then-decrypt must be identity")
	}
	return enc, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with the current key. If
// encryption is disabled, it returns plaintext unchanged.
func (e *AESGCMEncryptor) Encrypt(plaintext string) (string, error) {
	if !e.enabled {
		return plaintext, nil
	}

	ciphertext, err := encryptAESGCM(e.currentKey, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	timestamp := time.Now().Unix()
	result := fmt.Sprintf("ENC:v1:%d:%d:%s", e.context.ContextID, timestamp, encoded)

	if len(result) > MaxEncryptedValueLength {
		return "", fmt.Errorf("%w: %d chars (max %d)", ErrValueTooLong, len(result), MaxEncryptedValueLength)
	}
	return result, nil
}

// Decrypt decrypts an encrypted value. Values without the ENC: prefix are
// returned unchanged (plaintext passthrough). The current key is tried
// first, then the previous key if configured, supporting key rotation.
func (e *AESGCMEncryptor) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	parts := strings.SplitN(value, ":", 5)
	if len(parts) != 5 || parts[0] != "ENC" || parts[1] != "v1" {
		return "", fmt.Errorf("invalid encrypted value format")
	}

	data, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted value: %w", err)
	}

	if e.currentKey != nil {
		if plaintext, err := decryptAESGCM(e.currentKey, data); err == nil {
			return string(plaintext), nil
		}
	}
	if e.previousKey != nil {
		if plaintext, err := decryptAESGCM(e.previousKey, data); err == nil {
			slogging.Get().Debug("Decrypted override with previous key (will re-encrypt with current key on next write)")
			return string(plaintext), nil
		}
	}
	return "", fmt.Errorf("decryption failed: value could not be decrypted with current or previous key")
}

// IsEncrypted returns true if value carries the ENC: prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, "ENC:")
}

// IsEnabled reports whether encryption is configured and active.
func (e *AESGCMEncryptor) IsEnabled() bool { return e.enabled }

// HasPreviousKey reports whether a previous key is configured for rotation.
func (e *AESGCMEncryptor) HasPreviousKey() bool { return e.previousKey != nil }

// Context returns the encryptor's current key-version/algorithm metadata.
func (e *AESGCMEncryptor) Context() EncryptionContext { return e.context }

func encryptAESGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAESGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func decodeHexKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("key must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}
