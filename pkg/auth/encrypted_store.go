package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore implements HostStore using an AES-GCM encrypted file
// with a PBKDF2-derived key.
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

// encryptedFile is the on-disk structure of the store
type encryptedFile struct {
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce"`
	Encrypted string `json:"encrypted"`
}

// NewEncryptedFileStore creates a new encrypted file-based host store
func NewEncryptedFileStore(filePath string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	store := &EncryptedFileStore{
		filepath: filePath,
	}

	passphrase, err := store.getPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	store.passphrase = passphrase

	return store, nil
}

// getPassphrase returns the passphrase protecting the file. PHABRY_PASSPHRASE
// takes precedence; otherwise a machine-local default keeps casual reads of
// the file out without prompting on every run.
func (e *EncryptedFileStore) getPassphrase() (string, error) {
	if passphrase := os.Getenv("PHABRY_PASSPHRASE"); passphrase != "" {
		return passphrase, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "phabry"
	}
	return fmt.Sprintf("phabry-%s-%s", hostname, os.Getenv("USER")), nil
}

// Store saves a host entry to the encrypted file
func (e *EncryptedFileStore) Store(host *Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if host == nil || host.Name == "" {
		return ErrInvalidHost
	}

	hosts, err := e.loadHosts()
	if err != nil {
		return fmt.Errorf("failed to load existing entries: %w", err)
	}

	hosts[host.Name] = *host

	return e.saveHosts(hosts)
}

// Retrieve gets a host entry from the encrypted file
func (e *EncryptedFileStore) Retrieve(name string) (*Host, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if name == "" {
		return nil, ErrInvalidHost
	}

	hosts, err := e.loadHosts()
	if err != nil {
		return nil, err
	}

	host, ok := hosts[name]
	if !ok {
		return nil, ErrHostNotFound
	}

	return &host, nil
}

// List returns all host entries from the encrypted file
func (e *EncryptedFileStore) List() ([]*Host, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hosts, err := e.loadHosts()
	if err != nil {
		return nil, err
	}

	out := make([]*Host, 0, len(hosts))
	for name := range hosts {
		h := hosts[name]
		out = append(out, &h)
	}
	return out, nil
}

// Delete removes a host entry from the encrypted file
func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if name == "" {
		return ErrInvalidHost
	}

	hosts, err := e.loadHosts()
	if err != nil {
		return err
	}

	if _, ok := hosts[name]; !ok {
		return ErrHostNotFound
	}
	delete(hosts, name)

	return e.saveHosts(hosts)
}

// Exists checks if a host entry exists in the encrypted file
func (e *EncryptedFileStore) Exists(name string) bool {
	host, err := e.Retrieve(name)
	return err == nil && host != nil
}

// loadHosts reads and decrypts the host map, empty when no file exists yet
func (e *EncryptedFileStore) loadHosts() (map[string]Host, error) {
	data, err := os.ReadFile(e.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Host), nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var file encryptedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := e.newGCM(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt store (wrong passphrase?): %w", err)
	}

	hosts := make(map[string]Host)
	if err := json.Unmarshal(plaintext, &hosts); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted entries: %w", err)
	}

	return hosts, nil
}

// saveHosts encrypts and writes the host map
func (e *EncryptedFileStore) saveHosts(hosts map[string]Host) error {
	plaintext, err := json.Marshal(hosts)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.newGCM(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	file := encryptedFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}

	if err := os.WriteFile(e.filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	return nil
}

// newGCM derives the AES-GCM cipher from the passphrase and salt
func (e *EncryptedFileStore) newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
