// Package auth implements API key generation and validation for the
// portprobe API server. Configured keys may be stored in plain text or as
// bcrypt hashes produced by `portprobe apikey generate`.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// API key generation and validation constants
const (
	// KeyLength is the length of the random part of an API key
	KeyLength = 32
	// KeyPrefix is the standard prefix for all API keys
	KeyPrefix = "pp"

	// BcryptCost is the cost used when hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72

	// MaxKeyNameLength is the maximum length for API key names
	MaxKeyNameLength = 255
)

// hashCost is lowered by tests.
var hashCost = BcryptCost

// GeneratedKey is a freshly generated API key. Key is shown once; Hash is
// what goes into the configuration file.
type GeneratedKey struct {
	Name          string    `json:"name"`
	Key           string    `json:"key"`
	Hash          string    `json:"hash"`
	DisplayPrefix string    `json:"display_prefix"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerateKey creates a new random API key and its bcrypt hash.
func GenerateKey(name string) (*GeneratedKey, error) {
	if err := validateKeyName(name); err != nil {
		return nil, fmt.Errorf("invalid key name: %w", err)
	}

	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes))
	randomPart = randomPart[:KeyLength]

	key := fmt.Sprintf("%s_%s", KeyPrefix, randomPart)
	hash, err := HashKey(key)
	if err != nil {
		return nil, err
	}

	return &GeneratedKey{
		Name:          name,
		Key:           key,
		Hash:          hash,
		DisplayPrefix: DisplayPrefix(key),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func bcryptInput(key string) []byte {
	keyBytes := []byte(key)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// HashKey creates a bcrypt hash of an API key. Keys longer than bcrypt's
// 72 byte limit are pre-hashed with SHA-256.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(key), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// CompareKey checks a presented key against a stored bcrypt hash.
func CompareKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(key)) == nil
}

// IsHash reports whether s looks like a bcrypt hash rather than a key.
func IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// IsValidKeyFormat checks if an API key has the generated shape.
func IsValidKeyFormat(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix+"_") {
		return false
	}
	if len(key) != len(KeyPrefix)+1+KeyLength {
		return false
	}
	for _, char := range key[len(KeyPrefix)+1:] {
		if (char < 'a' || char > 'z') && (char < '2' || char > '7') {
			return false
		}
	}
	return true
}

// DisplayPrefix returns a log-safe prefix of a key, e.g. "pp_abcdefgh...".
func DisplayPrefix(key string) string {
	if !IsValidKeyFormat(key) {
		return "invalid_key"
	}
	return key[:len(KeyPrefix)+1+8] + "..."
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("key name cannot be empty")
	}
	if len(name) > MaxKeyNameLength {
		return fmt.Errorf("key name must be at most %d characters", MaxKeyNameLength)
	}

	for _, char := range name {
		// C0 and C1 controls plus bidirectional overrides and isolates
		if char < 32 || char == 127 ||
			(char >= 0x0080 && char <= 0x009F) ||
			(char >= 0x202A && char <= 0x202E) ||
			(char >= 0x2066 && char <= 0x2069) {
			return fmt.Errorf("key name contains invalid characters")
		}
	}
	return nil
}

// Keyring holds the keys accepted by the API. It is safe for concurrent use.
type Keyring struct {
	plain  [][]byte
	hashes []string

	// verified caches SHA-256 digests of keys that matched a bcrypt hash so
	// that each request does not pay the bcrypt cost.
	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewKeyring builds a keyring from configured entries. Entries that parse as
// bcrypt hashes are compared with bcrypt; anything else is a literal key.
// Blank entries are ignored.
func NewKeyring(entries []string) *Keyring {
	k := &Keyring{verified: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case IsHash(entry):
			k.hashes = append(k.hashes, entry)
		default:
			k.plain = append(k.plain, []byte(entry))
		}
	}
	return k
}

// Enabled reports whether any key is configured.
func (k *Keyring) Enabled() bool {
	return len(k.plain)+len(k.hashes) > 0
}

// Validate reports whether key is accepted.
func (k *Keyring) Validate(key string) bool {
	if key == "" {
		return false
	}

	presented := []byte(key)
	for _, p := range k.plain {
		if subtle.ConstantTimeCompare(presented, p) == 1 {
			return true
		}
	}

	if len(k.hashes) == 0 {
		return false
	}

	sum := sha256.Sum256(presented)
	digest := hex.EncodeToString(sum[:])

	k.mu.RLock()
	_, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range k.hashes {
		if CompareKey(key, h) {
			k.mu.Lock()
			k.verified[digest] = struct{}{}
			k.mu.Unlock()
			return true
		}
	}
	return false
}
