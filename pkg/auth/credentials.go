package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

var (
	// ErrInvalidHost is returned when a host entry is missing required fields
	ErrInvalidHost = errors.New("invalid host entry")

	// ErrHostNotFound is returned when no stored entry matches the name
	ErrHostNotFound = errors.New("host not found")
)

// Host is a stored Phabricator instance: a short name, the Conduit API URL
// and the API token used against it.
type Host struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Token        string    `json:"token"`
	LastModified time.Time `json:"last_modified"`
}

// HostStore is the interface for storing and retrieving API tokens
type HostStore interface {
	// Store saves a host entry
	Store(host *Host) error

	// Retrieve gets the entry for a specific host name
	Retrieve(name string) (*Host, error)

	// List returns all stored hosts
	List() ([]*Host, error)

	// Delete removes the entry for a specific host name
	Delete(name string) error

	// Exists checks if an entry exists for a host name
	Exists(name string) bool
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []HostStore
}

// NewManager creates a token manager with the available storage backends:
// system keychain first, encrypted file as fallback, environment variables
// as last resort.
func NewManager() (*Manager, error) {
	var stores []HostStore

	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "hosts.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves a host entry using the first store that accepts it
func (m *Manager) Store(host *Host) error {
	if host.Name == "" {
		return errors.New("host name is required")
	}
	if host.URL == "" {
		return errors.New("API URL is required")
	}
	if host.Token == "" {
		return errors.New("API token is required")
	}

	host.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(host); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store host entry: %w", lastErr)
	}
	return errors.New("no available host stores")
}

// Retrieve gets a host entry from the first store that has it
func (m *Manager) Retrieve(name string) (*Host, error) {
	for _, store := range m.stores {
		if host, err := store.Retrieve(name); err == nil && host != nil {
			return host, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// List returns all host entries across stores, first store wins on name
// collisions.
func (m *Manager) List() ([]*Host, error) {
	seen := make(map[string]bool)
	var hosts []*Host

	for _, store := range m.stores {
		entries, err := store.List()
		if err != nil {
			continue
		}
		for _, h := range entries {
			if !seen[h.Name] {
				seen[h.Name] = true
				hosts = append(hosts, h)
			}
		}
	}

	return hosts, nil
}

// Delete removes a host entry from every store that has it
func (m *Manager) Delete(name string) error {
	found := false
	for _, store := range m.stores {
		if store.Exists(name) {
			if err := store.Delete(name); err != nil {
				return err
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	return nil
}

// getConfigDir returns the phabry config directory for the current OS
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "linux":
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "phabry")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "phabry")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "phabry")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "phabry")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}
