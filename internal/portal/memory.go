package portal

import (
	"errors"
	"sync"
)

// ErrSessionClosed is returned by writes to a closed session store.
var ErrSessionClosed = errors.New("session store is closed")

// MemoryConfig is a map-backed Config.
type MemoryConfig struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryConfig creates an empty config store.
func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{values: map[string]string{}}
}

// AppValue implements Config.
func (c *MemoryConfig) AppValue(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// SetAppValue implements Config.
func (c *MemoryConfig) SetAppValue(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Values returns a snapshot of all settings.
func (c *MemoryConfig) Values() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MemorySession is a map-backed SessionStore. The portal closes the store
// when the HTTP session is committed; later writes are rejected.
type MemorySession struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// NewMemorySession creates an open session store.
func NewMemorySession() *MemorySession {
	return &MemorySession{values: map[string][]byte{}}
}

// Get implements SessionStore.
func (s *MemorySession) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

// Set implements SessionStore.
func (s *MemorySession) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.values[key] = value
	return nil
}

// IsClosed implements SessionStore.
func (s *MemorySession) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close implements SessionStore. Reads stay possible after close.
func (s *MemorySession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Reopen re-admits writes; the registry reopens a stored session at the
// start of each request cycle.
func (s *MemorySession) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// StaticCredentials is a CredentialsStore returning fixed values; the
// production portal supplies its own implementation.
type StaticCredentials struct {
	UserID   string
	Password string
}

// LoginCredentials implements CredentialsStore.
func (c StaticCredentials) LoginCredentials() (Credentials, error) {
	if c.UserID == "" {
		return Credentials{}, errors.New("no login credentials available")
	}
	return Credentials{UserID: c.UserID, Password: c.Password}, nil
}
