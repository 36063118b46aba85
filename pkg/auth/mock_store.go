package auth

import "sync"

// MockStore is an in-memory HostStore for tests
type MockStore struct {
	mu    sync.RWMutex
	hosts map[string]Host

	// Optional error overrides
	StoreErr    error
	RetrieveErr error
}

// NewMockStore creates an empty in-memory host store
func NewMockStore() *MockStore {
	return &MockStore{hosts: make(map[string]Host)}
}

func (m *MockStore) Store(host *Host) error {
	if m.StoreErr != nil {
		return m.StoreErr
	}
	if host == nil || host.Name == "" {
		return ErrInvalidHost
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[host.Name] = *host
	return nil
}

func (m *MockStore) Retrieve(name string) (*Host, error) {
	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	host, ok := m.hosts[name]
	if !ok {
		return nil, ErrHostNotFound
	}
	return &host, nil
}

func (m *MockStore) List() ([]*Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Host, 0, len(m.hosts))
	for name := range m.hosts {
		h := m.hosts[name]
		out = append(out, &h)
	}
	return out, nil
}

func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hosts[name]; !ok {
		return ErrHostNotFound
	}
	delete(m.hosts, name)
	return nil
}

func (m *MockStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hosts[name]
	return ok
}
