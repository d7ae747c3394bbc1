package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clubpilot/ClubPilot/internal/pkg/env"
)

// envelopeVersion is the only scheme the engine currently writes or accepts.
// Bumping it allows old envelopes to be detected and migrated instead of
// silently decrypted with the wrong parameters.
const envelopeVersion = "v1"

const envelopeParts = 4

const ivSize = 16

// ErrDecryptionFailed covers every way an envelope can be rejected: wrong
// component count, unsupported version, bad hex and failed authentication.
// Callers must treat it as tampering and never fall back to partial data.
var ErrDecryptionFailed = errors.New("security: decryption failed")

// ConfigError reports missing or malformed secret configuration. It is a
// deployment problem, distinct from adversarial input.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("security: configuration error for %s: %s", e.Key, e.Reason)
}

// Engine performs authenticated encryption of sensitive values with a single
// AES-256 key supplied at construction. All operations are stateless and safe
// for concurrent use.
type Engine struct {
	aead       cipher.AEAD
	lookupSalt string
}

// NewEngine builds an engine from a 64-hex-character (32 byte) key. The
// lookup salt may be empty; HashForLookup then hashes the bare value.
func NewEngine(hexKey, lookupSalt string) (*Engine, error) {
	if strings.TrimSpace(hexKey) == "" {
		return nil, &ConfigError{Key: "ENCRYPTION_KEY", Reason: "not set"}
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, &ConfigError{Key: "ENCRYPTION_KEY", Reason: "not valid hex"}
	}
	if len(key) != 32 {
		return nil, &ConfigError{Key: "ENCRYPTION_KEY", Reason: "must be 32 bytes (64 hex chars) for AES-256"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: block cipher init: %w", err)
	}
	// 16 byte IVs, matching the envelopes already written by the platform.
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("security: GCM init: %w", err)
	}

	// Zero the temporary key copy, the AEAD keeps its own schedule.
	for i := range key {
		key[i] = 0
	}

	return &Engine{aead: aead, lookupSalt: lookupSalt}, nil
}

// NewEngineFromEnv builds an engine from ENCRYPTION_KEY and LOOKUP_HASH_SALT.
// A missing key fails here, at first use, so unrelated code paths keep working.
func NewEngineFromEnv() (*Engine, error) {
	return NewEngine(env.GetEnv("ENCRYPTION_KEY", ""), env.GetEnv("LOOKUP_HASH_SALT", ""))
}

// Encrypt seals a plaintext into a versioned envelope of the form
// "v1:<iv-hex>:<authTag-hex>:<ciphertext-hex>". A fresh random IV is
// generated per call.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("security: iv generation: %w", err)
	}

	sealed := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagOffset := len(sealed) - e.aead.Overhead()
	ciphertext, tag := sealed[:tagOffset], sealed[tagOffset:]

	return strings.Join([]string{
		envelopeVersion,
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt. It fails closed: any
// malformed segment, version mismatch or authentication failure yields
// ErrDecryptionFailed and never partial plaintext.
func (e *Engine) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != envelopeParts {
		return "", fmt.Errorf("%w: expected %d segments, got %d", ErrDecryptionFailed, envelopeParts, len(parts))
	}
	if parts[0] != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope version %q", ErrDecryptionFailed, parts[0])
	}

	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: invalid iv encoding", ErrDecryptionFailed)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid auth tag encoding", ErrDecryptionFailed)
	}
	ciphertext, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	if len(iv) != e.aead.NonceSize() {
		return "", fmt.Errorf("%w: invalid iv length", ErrDecryptionFailed)
	}

	plaintext, err := e.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication tag mismatch", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// EncryptObject serializes any JSON-encodable value through Encrypt.
func (e *Engine) EncryptObject(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("security: encode object: %w", err)
	}
	return e.Encrypt(string(data))
}

// DecryptObject reverses EncryptObject into the provided destination.
func (e *Engine) DecryptObject(envelope string, out interface{}) error {
	plaintext, err := e.Decrypt(envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrDecryptionFailed)
	}
	return nil
}

// HashForLookup returns a one-way SHA-256 digest of data plus a salt, for
// building searchable indexes over otherwise-encrypted columns. An explicit
// salt overrides the engine's configured default. Not reversible and not a
// substitute for Encrypt.
func (e *Engine) HashForLookup(data string, salt ...string) string {
	s := e.lookupSalt
	if len(salt) > 0 {
		s = salt[0]
	}
	sum := sha256.Sum256([]byte(data + s))
	return hex.EncodeToString(sum[:])
}

// GenerateSecureToken returns a cryptographically random hex string of
// lengthBytes random bytes (32 when lengthBytes <= 0).
func GenerateSecureToken(lengthBytes int) (string, error) {
	if lengthBytes <= 0 {
		lengthBytes = 32
	}
	b := make([]byte, lengthBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("security: token generation: %w", err)
	}
	return hex.EncodeToString(b), nil
}
