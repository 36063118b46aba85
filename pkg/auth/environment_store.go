package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements HostStore using environment variables. It is
// read-only and exposes at most one entry, built from PHABRY_URL and
// PHABRY_API_TOKEN.
type EnvironmentStore struct{}

// envHostName is the name the environment-provided entry answers to.
const envHostName = "environment"

// NewEnvironmentStore creates a new environment-based host store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// fromEnv builds the host entry from the environment, nil when incomplete
func (s *EnvironmentStore) fromEnv() *Host {
	url := os.Getenv("PHABRY_URL")
	token := os.Getenv("PHABRY_API_TOKEN")
	if url == "" || token == "" {
		return nil
	}
	return &Host{
		Name:         envHostName,
		URL:          url,
		Token:        token,
		LastModified: time.Now(),
	}
}

// Store is not supported for environment variables
func (s *EnvironmentStore) Store(host *Host) error {
	return ErrInvalidHost
}

// Retrieve returns the environment entry when the name matches or is empty
func (s *EnvironmentStore) Retrieve(name string) (*Host, error) {
	host := s.fromEnv()
	if host == nil {
		return nil, ErrHostNotFound
	}
	if name != "" && name != envHostName {
		return nil, ErrHostNotFound
	}
	return host, nil
}

// List returns the environment entry when present
func (s *EnvironmentStore) List() ([]*Host, error) {
	if host := s.fromEnv(); host != nil {
		return []*Host{host}, nil
	}
	return nil, nil
}

// Delete is not supported for environment variables
func (s *EnvironmentStore) Delete(name string) error {
	return ErrHostNotFound
}

// Exists checks whether the environment provides a matching entry
func (s *EnvironmentStore) Exists(name string) bool {
	host, err := s.Retrieve(name)
	return err == nil && host != nil
}
