package portal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/logging"
)

// Session bundles everything the relay keeps per portal end-user session.
type Session struct {
	ID          string
	UserID      string
	Store       *MemorySession
	Credentials CredentialsStore
	lastSeen    time.Time
}

// Registry tracks portal sessions by their session-cookie id. It stands in
// for the host portal's own session table; one entry exists per logged-in
// browser.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	log      *logging.Logger
	onCount  func(int)
	done     chan struct{}
	once     sync.Once
}

// NewRegistry creates a registry; onCount (may be nil) is invoked with the
// session count after every change, feeding the sessions-active gauge.
func NewRegistry(ttl time.Duration, cleanupInterval time.Duration, log *logging.Logger, onCount func(int)) *Registry {
	r := &Registry{
		sessions: map[string]*Session{},
		ttl:      ttl,
		log:      log,
		onCount:  onCount,
		done:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go r.cleanupLoop(cleanupInterval)
	}
	return r
}

// Create registers a new session for a user and returns it.
func (r *Registry) Create(userID string, creds CredentialsStore) *Session {
	session := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Store:       NewMemorySession(),
		Credentials: creds,
		lastSeen:    time.Now(),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	count := len(r.sessions)
	r.mu.Unlock()

	r.notify(count)
	return session
}

// Lookup resolves a session id, refreshing its TTL.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if ok {
		session.lastSeen = time.Now()
	}
	return session, ok
}

// Remove drops a session, e.g. on portal logout.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()
	r.notify(count)
}

// Close stops the cleanup loop.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Registry) notify(count int) {
	if r.onCount != nil {
		r.onCount(count)
	}
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.expire()
		}
	}
}

func (r *Registry) expire() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []string
	for id, session := range r.sessions {
		if session.lastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if len(expired) > 0 {
		r.log.Debug("expired portal sessions", zap.Int("count", len(expired)))
		r.notify(count)
	}
}
