// Package vault stores named credentials in a single file encrypted with a
// key derived from a master password (scrypt + NaCl secretbox).
package vault

import (
	"crypto/rand"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/anstrom/portprobe/internal/logging"
)

const (
	formatVersion = 1
	saltSize      = 16
	nonceSize     = 24
	keySize       = 32

	dirPerm  = 0700
	filePerm = 0600
)

// scrypt work factors. Tests lower N.
var (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrDecrypt is returned when the master password is wrong or the vault
	// file is corrupt. The two cases are indistinguishable.
	ErrDecrypt = stderrors.New("invalid master password or corrupt data")

	// ErrNotFound is returned for a name that has no entry.
	ErrNotFound = stderrors.New("entry not found")

	// ErrEmptyPassword is returned when no master password is given.
	ErrEmptyPassword = stderrors.New("master password is required")
)

// Entry is one stored credential.
type Entry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Match is a search hit. Passwords are not included.
type Match struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type envelope struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// Vault is a credential file. Operations on one Vault are serialized.
type Vault struct {
	path string
	mu   sync.Mutex
}

// New returns a vault backed by path. The file is created on first write.
func New(path string) *Vault {
	return &Vault{path: path}
}

// Path returns the vault file location.
func (v *Vault) Path() string {
	return v.path
}

// Add stores or replaces the entry called name.
func (v *Vault) Add(master, name, username, password string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("entry name is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load(master)
	if err != nil {
		return err
	}
	entries[name] = Entry{Username: username, Password: password}
	return v.save(master, entries)
}

// Get returns the entry called name.
func (v *Vault) Get(master, name string) (Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load(master)
	if err != nil {
		return Entry{}, err
	}
	entry, ok := entries[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Delete removes the entry called name.
func (v *Vault) Delete(master, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load(master)
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return ErrNotFound
	}
	delete(entries, name)
	return v.save(master, entries)
}

// Search returns entries whose name contains query, ignoring case, sorted
// by name.
func (v *Vault) Search(master, query string) ([]Match, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load(master)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	matches := make([]Match, 0)
	for name, entry := range entries {
		if strings.Contains(strings.ToLower(name), query) {
			matches = append(matches, Match{Name: name, Username: entry.Username})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches, nil
}

func deriveKey(master string, salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key([]byte(master), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], derived)
	return &key, nil
}

// load decrypts the vault. A missing or empty file is an empty vault.
func (v *Vault) load(master string) (map[string]Entry, error) {
	if master == "" {
		return nil, ErrEmptyPassword
	}

	raw, err := os.ReadFile(v.path)
	if os.IsNotExist(err) || (err == nil && len(raw) == 0) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != formatVersion ||
		len(env.Salt) != saltSize || len(env.Nonce) != nonceSize {
		return nil, ErrDecrypt
	}

	key, err := deriveKey(master, env.Salt)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], env.Nonce)
	plain, ok := secretbox.Open(nil, env.Data, &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, ErrDecrypt
	}
	return entries, nil
}

// save encrypts entries under a fresh salt and nonce and replaces the file
// atomically.
func (v *Vault) save(master string, entries map[string]Entry) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}

	env := envelope{Version: formatVersion, Salt: make([]byte, saltSize)}
	if _, err := io.ReadFull(rand.Reader, env.Salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	env.Nonce = nonce[:]

	key, err := deriveKey(master, env.Salt)
	if err != nil {
		return err
	}
	env.Data = secretbox.Seal(nil, plain, &nonce, key)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), dirPerm); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("failed to replace vault: %w", err)
	}

	logging.Debug("Vault saved", "path", v.path, "entries", len(entries))
	return nil
}
