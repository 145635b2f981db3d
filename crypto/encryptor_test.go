package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := generateTestKey(t)
	enc, err := NewFromKeys(key, nil, 1)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	plaintext := "hello world, this is a test setting value!"
	encrypted, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if !IsEncrypted(encrypted) {
		t.Errorf("encrypted value should have ENC: prefix, got: %s", encrypted[:20])
	}

	decrypted, err := enc.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("round-trip failed: got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	key := generateTestKey(t)
	enc, err := NewFromKeys(key, nil, 1)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	values := []string{"100", "true", "auto", `{"key": "value"}`, "", "some plain text"}
	for _, val := range values {
		result, err := enc.Decrypt(val)
		if err != nil {
			t.Errorf("Decrypt(%q) returned error: %v", val, err)
		}
		if result != val {
			t.Errorf("Decrypt(%q) = %q, want passthrough", val, result)
		}
	}
}

func TestEncryptDisabled(t *testing.T) {
	enc := &AESGCMEncryptor{enabled: false}

	plaintext := "some value"
	result, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if result != plaintext {
		t.Errorf("disabled Encrypt should return plaintext, got %q", result)
	}
}

func TestUniqueNonces(t *testing.T) {
	key := generateTestKey(t)
	enc, err := NewFromKeys(key, nil, 1)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	plaintext := "same value"
	encrypted1, _ := enc.Encrypt(plaintext)
	encrypted2, _ := enc.Encrypt(plaintext)

	if encrypted1 == encrypted2 {
		t.Error("encrypting the same value twice should produce different ciphertext (unique nonces)")
	}

	d1, _ := enc.Decrypt(encrypted1)
	d2, _ := enc.Decrypt(encrypted2)
	if d1 != plaintext || d2 != plaintext {
		t.Errorf("both ciphertexts should decrypt to %q, got %q and %q", plaintext, d1, d2)
	}
}

func TestWrongKeyFails(t *testing.T) {
	key1 := generateTestKey(t)
	key2 := generateTestKey(t)

	enc1, _ := NewFromKeys(key1, nil, 1)
	enc2, _ := NewFromKeys(key2, nil, 1)

	encrypted, err := enc1.Encrypt("secret data")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = enc2.Decrypt(encrypted)
	if err == nil {
		t.Error("Decrypt with wrong key should fail")
	}
}

func TestDecryptWithPreviousKey(t *testing.T) {
	keyA := generateTestKey(t)
	keyB := generateTestKey(t)

	encA, _ := NewFromKeys(keyA, nil, 1)
	encrypted, err := encA.Encrypt("secret data")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	encB, err := NewFromKeys(keyB, keyA, 2)
	if err != nil {
		t.Fatalf("failed to create encryptor with previous key: %v", err)
	}

	decrypted, err := encB.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt with previous key should succeed: %v", err)
	}
	if decrypted != "secret data" {
		t.Errorf("got %q, want %q", decrypted, "secret data")
	}
}

func TestDecryptFailsBothKeys(t *testing.T) {
	keyA := generateTestKey(t)
	keyB := generateTestKey(t)
	keyC := generateTestKey(t)

	encA, _ := NewFromKeys(keyA, nil, 1)
	encrypted, err := encA.Encrypt("secret data")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	encBC, _ := NewFromKeys(keyB, keyC, 2)
	_, err = encBC.Decrypt(encrypted)
	if err == nil {
		t.Error("Decrypt should fail when neither current nor previous key matches")
	}
}

func TestCorruptedCiphertext(t *testing.T) {
	key := generateTestKey(t)
	enc, _ := NewFromKeys(key, nil, 1)

	encrypted, _ := enc.Encrypt("test value")

	parts := strings.SplitN(encrypted, ":", 5)
	data := []byte(parts[4])
	if len(data) > 5 {
		data[5] ^= 0xFF
	}
	parts[4] = string(data)
	corrupted := strings.Join(parts, ":")

	_, err := enc.Decrypt(corrupted)
	if err == nil {
		t.Error("Decrypt of corrupted ciphertext should fail")
	}
}

func TestMalformedFormat(t *testing.T) {
	key := generateTestKey(t)
	enc, _ := NewFromKeys(key, nil, 1)

	cases := []string{
		"ENC:",
		"ENC:v1",
		"ENC:v1:1",
		"ENC:v1:1:123",
		"ENC:v2:1:123:data",
		"ENC:v1:1:123:!!!###",
	}

	for _, c := range cases {
		_, err := enc.Decrypt(c)
		if err == nil {
			t.Errorf("Decrypt(%q) should return error for malformed format", c)
		}
	}
}

func TestInvalidKeyLength(t *testing.T) {
	if _, err := NewFromKeys(make([]byte, 16), nil, 1); err == nil {
		t.Error("should reject 16-byte key")
	}
	if _, err := NewFromKeys(make([]byte, 64), nil, 1); err == nil {
		t.Error("should reject 64-byte key")
	}

	validKey := generateTestKey(t)
	if _, err := NewFromKeys(validKey, make([]byte, 16), 1); err == nil {
		t.Error("should reject 16-byte previous key")
	}
}

func TestValueTooLong(t *testing.T) {
	key := generateTestKey(t)
	enc, _ := NewFromKeys(key, nil, 1)

	longValue := strings.Repeat("x", 3000)
	_, err := enc.Encrypt(longValue)
	if err == nil {
		t.Error("should reject value that exceeds varchar(4000) when encrypted")
	}
	if err != nil && !strings.Contains(err.Error(), "exceeds maximum storage length") {
		t.Errorf("expected ErrValueTooLong, got: %v", err)
	}
}

func TestContextIDInOutput(t *testing.T) {
	key := generateTestKey(t)

	for _, contextID := range []int{1, 5, 42} {
		enc, _ := NewFromKeys(key, nil, contextID)
		encrypted, err := enc.Encrypt("test")
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}

		parts := strings.SplitN(encrypted, ":", 5)
		if len(parts) != 5 {
			t.Fatalf("expected 5 parts, got %d", len(parts))
		}

		gotID := parts[2]
		wantID := strconv.Itoa(contextID)
		if gotID != wantID {
			t.Errorf("context ID: got %s, want %s", gotID, wantID)
		}
	}
}

func TestIsEncrypted(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"ENC:v1:1:123:data", true},
		{"ENC:", true},
		{"ENC:anything", true},
		{"enc:v1:1:123:data", false},
		{"ENCRYPTED:v1:1:123:data", false},
		{"100", false},
		{"true", false},
		{"", false},
		{"hello world", false},
	}

	for _, tc := range cases {
		got := IsEncrypted(tc.value)
		if got != tc.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestHasPreviousKey(t *testing.T) {
	key := generateTestKey(t)

	enc1, _ := NewFromKeys(key, nil, 1)
	if enc1.HasPreviousKey() {
		t.Error("should not have previous key")
	}

	prevKey := generateTestKey(t)
	enc2, _ := NewFromKeys(key, prevKey, 1)
	if !enc2.HasPreviousKey() {
		t.Error("should have previous key")
	}
}

func TestIsEnabled(t *testing.T) {
	disabled := &AESGCMEncryptor{enabled: false}
	if disabled.IsEnabled() {
		t.Error("disabled encryptor should return false")
	}

	key := generateTestKey(t)
	enabled, _ := NewFromKeys(key, nil, 1)
	if !enabled.IsEnabled() {
		t.Error("enabled encryptor should return true")
	}
}

func TestGetContext(t *testing.T) {
	key := generateTestKey(t)
	enc, _ := NewFromKeys(key, nil, 7)

	ctx := enc.Context()
	if ctx.ContextID != 7 {
		t.Errorf("ContextID: got %d, want 7", ctx.ContextID)
	}
	if ctx.Algorithm != "aes-256-gcm" {
		t.Errorf("Algorithm: got %s, want aes-256-gcm", ctx.Algorithm)
	}
}

func TestDecodeHexKey(t *testing.T) {
	validHex := hex.EncodeToString(generateTestKey(t))
	key, err := decodeHexKey(validHex)
	if err != nil {
		t.Fatalf("valid hex key should decode: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length: got %d, want 32", len(key))
	}

	key2, err := decodeHexKey("  " + validHex + "  ")
	if err != nil {
		t.Fatalf("hex key with whitespace should decode: %v", err)
	}
	if len(key2) != 32 {
		t.Errorf("key length: got %d, want 32", len(key2))
	}

	if _, err := decodeHexKey("not-hex"); err == nil {
		t.Error("invalid hex should fail")
	}

	shortHex := hex.EncodeToString(make([]byte, 16))
	if _, err := decodeHexKey(shortHex); err == nil {
		t.Error("16-byte key should fail")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	key := generateTestKey(t)
	enc, _ := NewFromKeys(key, nil, 1)

	encrypted, err := enc.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt empty string failed: %v", err)
	}

	decrypted, err := enc.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt empty string failed: %v", err)
	}
	if decrypted != "" {
		t.Errorf("got %q, want empty string", decrypted)
	}
}
