// Package portal defines the host-portal capabilities the relay consumes:
// a key/value config store, a per-user session store, a credential source,
// and the login/logout hook plumbing. The portal proper owns routing,
// rendering and credential interception; this package only models the
// contact surface plus default in-memory implementations.
package portal

import (
	"net/http"
	"strings"
)

// Config is the portal's admin-settings store, a plain KV surface.
type Config interface {
	AppValue(key string) string
	SetAppValue(key, value string)
}

// SessionStore persists small blobs into the portal's per-user session.
// Writes after Close must fail with ErrSessionClosed semantics via
// IsClosed; the relay treats late writes as best-effort.
type SessionStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	IsClosed() bool
	Close()
}

// Credentials are the portal login credentials of the current user. They
// are fetched at login-needed moments only and never persisted.
type Credentials struct {
	UserID   string
	Password string
}

// CredentialsStore exposes the portal's intercepted login credentials.
type CredentialsStore interface {
	LoginCredentials() (Credentials, error)
}

// IgnoreRequest reports whether a portal login/logout event should be
// ignored by the relay. Non-interactive traffic (API clients, bearer
// tokens, exotic methods) must not trigger CMS logins, otherwise
// automation requests stampede the backend with session churn.
func IgnoreRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return true
	}
	if r.Header.Get("OCS-APIRequest") == "true" {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return true
	}
	return false
}
