package auth

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/portal"
)

// SessionRecord is the persisted shape of one relay session: the most
// recent auth-header batch, the derived status, when it was determined,
// and the CSRF token map. The cookie name/value map is not stored; it is
// re-derived from the headers on restore.
type SessionRecord struct {
	AuthHeaders    []string          `json:"authHeaders"`
	LoginStatus    string            `json:"loginStatus"`
	LoginTimestamp int64             `json:"loginTimeStamp"`
	CSRFTokens     map[string]string `json:"csrfTokens,omitempty"`
}

// PersistLoginStatus writes the session record into the portal session
// store under the application name. A store that is already closed is a
// normal end-of-request condition: the write is logged and dropped, never
// propagated.
func (a *Authenticator) PersistLoginStatus() {
	if a.store.IsClosed() {
		a.log.Warn("session store already closed, unable to persist login status",
			zap.String("user", a.userID))
		return
	}

	record := SessionRecord{
		AuthHeaders:    a.jar.Headers(),
		LoginStatus:    a.status.String(),
		LoginTimestamp: time.Now().Unix(),
		CSRFTokens:     a.csrf.Tokens(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		a.log.Error("marshal session record", zap.Error(err))
		return
	}
	if err := a.store.Set(a.appName, data); err != nil {
		if errors.Is(err, portal.ErrSessionClosed) {
			a.log.Warn("session store closed mid-write, login status not persisted",
				zap.String("user", a.userID))
			return
		}
		a.log.Error("persist login status", zap.Error(err))
	}
}

// restoreLoginStatus initializes the machine from the session store. Any
// unreadable record leaves the machine in the clean Unknown state.
func (a *Authenticator) restoreLoginStatus() {
	a.jar.Clean()
	a.status = StatusUnknown

	data, ok := a.store.Get(a.appName)
	if !ok || len(data) == 0 {
		return
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		a.log.Error("unable to load session record", zap.Error(err))
		return
	}

	a.status = ParseStatus(record.LoginStatus)
	a.loginStamp = time.Unix(record.LoginTimestamp, 0)
	a.jar.Restore(record.AuthHeaders)
	a.csrf.Restore(record.CSRFTokens)
}
