package auth

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "phabry"
	keyringPrefix  = "host_"
)

// KeyringStore implements HostStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based host store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	err := keyring.Set(keyringService, testKey, "test")
	if err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves a host entry to the system keychain
func (k *KeyringStore) Store(host *Host) error {
	if host == nil || host.Name == "" {
		return ErrInvalidHost
	}

	data, err := json.Marshal(host)
	if err != nil {
		return fmt.Errorf("failed to marshal host entry: %w", err)
	}

	key := keyringPrefix + host.Name
	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return nil
}

// Retrieve gets a host entry from the system keychain
func (k *KeyringStore) Retrieve(name string) (*Host, error) {
	if name == "" {
		return nil, ErrInvalidHost
	}

	key := keyringPrefix + name
	data, err := keyring.Get(keyringService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var host Host
	if err := json.Unmarshal([]byte(data), &host); err != nil {
		return nil, fmt.Errorf("failed to unmarshal host entry: %w", err)
	}

	return &host, nil
}

// List returns all stored hosts from the keychain. go-keyring cannot
// enumerate keys, so the keychain contributes nothing to listings; the
// encrypted file store covers that.
func (k *KeyringStore) List() ([]*Host, error) {
	return nil, nil
}

// Delete removes a host entry from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidHost
	}

	key := keyringPrefix + name
	if err := keyring.Delete(keyringService, key); err != nil {
		if err == keyring.ErrNotFound {
			return ErrHostNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	return nil
}

// Exists checks if a host entry exists in the keychain
func (k *KeyringStore) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+name)
	return err == nil
}
