package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/infrastructure/config"
	"github.com/rexrelay/rexrelay/internal/logging"
	"github.com/rexrelay/rexrelay/internal/portal"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

const (
	stubLoginPage = `<html><body>
		<form method="post" class="rex-form-login">
			<input type="hidden" name="_csrf_token" value="tok-login" />
			<input type="text" name="rex_user_login" />
		</form></body></html>`
	stubBackendPage = `<html><body>
		<a href="index.php?page=profile">Profile</a></body></html>`
)

// stubCMS answers like the backend: login form until the POST with the
// right credentials, then a session cookie gates the logged-in pages.
func stubCMS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.PostFormValue("rex_user_login") == "alice" && r.PostFormValue("rex_user_psw") == "secret" {
				w.Header().Add("Set-Cookie", "REX5=abc123; path=/; HttpOnly")
				w.Header().Set("Location", "index.php?page=structure")
				w.WriteHeader(http.StatusFound)
				return
			}
			w.Write([]byte(stubLoginPage))
			return
		}
		if strings.Contains(r.Header.Get("Cookie"), "REX5=abc123") {
			if strings.Contains(r.URL.RawQuery, "rex_logout=1") {
				w.Header().Add("Set-Cookie", "PHPSESSID=boot2; path=/")
				w.Write([]byte(stubLoginPage))
				return
			}
			w.Write([]byte(stubBackendPage))
			return
		}
		w.Header().Add("Set-Cookie", "PHPSESSID=boot1; path=/")
		w.Write([]byte(stubLoginPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, cms *httptest.Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	endpoint, err := url.Parse(cms.URL)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.CMS.ExternalLocation = cms.URL
	cfg.CMS.ReloginDelay = 5 * time.Second
	cfg.CMS.RefreshInterval = 10 * time.Minute
	cfg.Sessions.TTL = time.Hour

	tr := transport.New(transport.Config{Endpoint: endpoint, VerifyTLS: true}, nil, logging.NewNop())
	registry := portal.NewRegistry(cfg.Sessions.TTL, 0, logging.NewNop(), nil)
	t.Cleanup(registry.Close)

	handlers := NewHandlers(cfg, dialect.Rex5, tr, registry, portal.NewMemoryConfig(), nil, logging.NewNop())

	router := gin.New()
	router.POST("/api/login", handlers.Login)
	router.POST("/api/logout", handlers.Logout)
	router.POST("/api/refresh", handlers.Refresh)
	router.GET("/api/status", handlers.Status)
	router.GET("/api/embed", handlers.Embed)
	router.GET("/api/admin/settings", handlers.GetSettings)
	router.POST("/api/admin/settings", handlers.SetSetting)
	router.GET("/health", handlers.Health)
	return router
}

// sessionCookie digs the relay session cookie out of a recorded response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookie {
			return cookie
		}
	}
	t.Fatal("relay session cookie missing from response")
	return nil
}

func TestLoginRelaysSessionToBrowser(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logged-in"`)
	assert.Contains(t, rec.Body.String(), `"refreshInterval":600`)

	// Both the relay session cookie and the CMS auth cookie reach the
	// browser on the same response.
	assert.NotEmpty(t, sessionCookie(t, rec).Value)
	cmsCookie := false
	for _, header := range rec.Header().Values("Set-Cookie") {
		if strings.Contains(header, "REX5=abc123") {
			cmsCookie = true
		}
	}
	assert.True(t, cmsCookie)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"mallory","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIgnoresNonInteractiveRequests(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRefreshRequiresSession(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// The clamped interval is advertised even on failure so client timers
	// stay sane.
	assert.Contains(t, rec.Body.String(), `"refreshInterval":600`)
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	login := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	login.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, login)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	// Status reads the persisted record without a CMS round trip.
	rec = httptest.NewRecorder()
	status := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	status.AddCookie(cookie)
	router.ServeHTTP(rec, status)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logged-in"`)
	assert.Contains(t, rec.Body.String(), `"alice"`)

	// Refresh pings the CMS and re-emits the auth cookies.
	rec = httptest.NewRecorder()
	refresh := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	refresh.AddCookie(cookie)
	router.ServeHTTP(rec, refresh)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refreshed":true`)

	// Embed builds the iframe URL for the session.
	rec = httptest.NewRecorder()
	embed := httptest.NewRequest(http.MethodGet, "/api/embed?articleId=42&edit=1", nil)
	embed.AddCookie(cookie)
	router.ServeHTTP(rec, embed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "article_id=42")
	assert.Contains(t, rec.Body.String(), "mode=edit")

	// Logout drops the session; a later status query knows nothing.
	rec = httptest.NewRecorder()
	logout := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	logout.AddCookie(cookie)
	router.ServeHTTP(rec, logout)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logged-out"`)

	rec = httptest.NewRecorder()
	statusAfter := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	statusAfter.AddCookie(cookie)
	router.ServeHTTP(rec, statusAfter)
	assert.Contains(t, rec.Body.String(), `"unknown"`)
}

func TestAdminSettings(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	set := httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"reloginDelay","value":"10"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/settings?key=reloginDelay", nil))
	assert.Contains(t, rec.Body.String(), `"10"`)

	rec = httptest.NewRecorder()
	bogus := httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"nope","value":"1"}`))
	bogus.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, bogus)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSettingsRewireBackend(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	// A dialect switch is visible on the very next request.
	rec := httptest.NewRecorder()
	set := httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"dialect","value":"rex4"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), "rex4")

	rec = httptest.NewRecorder()
	set = httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"dialect","value":"rex5"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	// Changing the external location points the next login at the new
	// backend without a restart.
	var hits atomic.Int64
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.PostFormValue("rex_user_login") == "alice" && r.PostFormValue("rex_user_psw") == "secret" {
				w.Header().Add("Set-Cookie", "REX5=other456; path=/; HttpOnly")
				w.Header().Set("Location", "index.php?page=structure")
				w.WriteHeader(http.StatusFound)
				return
			}
		}
		if strings.Contains(r.Header.Get("Cookie"), "REX5=other456") {
			w.Write([]byte(stubBackendPage))
			return
		}
		w.Write([]byte(stubLoginPage))
	}))
	t.Cleanup(second.Close)

	rec = httptest.NewRecorder()
	set = httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"externalLocation","value":"`+second.URL+`"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	login := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	login.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, login)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, hits.Load())
}

func TestAdminSettingsRefreshIntervalTakesEffect(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	set := httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"authenticationRefreshInterval","value":"45"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Contains(t, rec.Body.String(), `"refreshInterval":45`)

	// Values below the floor are advertised clamped.
	rec = httptest.NewRecorder()
	set = httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{"key":"authenticationRefreshInterval","value":"10"}`))
	set.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, set)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Contains(t, rec.Body.String(), `"refreshInterval":30`)
}

func TestAdminSettingsRejectInvalidValues(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	cases := []string{
		`{"key":"externalLocation","value":"not a url"}`,
		`{"key":"dialect","value":"rex9"}`,
		`{"key":"enableSSLVerify","value":"maybe"}`,
		`{"key":"reloginDelay","value":"soon"}`,
		`{"key":"authenticationRefreshInterval","value":"-5"}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		set := httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(body))
		set.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, set)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	// Nothing invalid reaches the store.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/settings?key=dialect", nil))
	assert.NotContains(t, rec.Body.String(), "rex9")
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, stubCMS(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rex5")
}
