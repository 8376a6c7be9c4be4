// Package http exposes the portal-facing REST surface of the relay:
// login/logout hooks, the browser keepalive endpoint, and the embed helper.
package http

import (
	stdhttp "net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/infrastructure/config"
	"github.com/rexrelay/rexrelay/internal/infrastructure/monitoring"
	"github.com/rexrelay/rexrelay/internal/logging"
	"github.com/rexrelay/rexrelay/internal/portal"
	"github.com/rexrelay/rexrelay/internal/relay/auth"
	"github.com/rexrelay/rexrelay/internal/relay/rpc"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

// SessionCookie names the relay's own portal session cookie. It only
// carries the registry id; the CMS auth cookies travel separately.
const SessionCookie = "rexrelay_session"

// Handlers serves the portal-facing API. One Authenticator is built per
// request from the session's persisted record, matching the one-machine-
// per-session-record concurrency model; the registry serializes nothing.
//
// The dialect, transport and timing knobs are admin-settable at runtime,
// so they live behind a lock instead of being fixed at construction.
type Handlers struct {
	cfg      *config.Config
	registry *portal.Registry
	admin    *portal.MemoryConfig
	metrics  *monitoring.Metrics
	log      *logging.Logger

	mu           sync.RWMutex
	dialect      *dialect.Dialect
	transport    *transport.Transport
	verifyTLS    bool
	reloginDelay time.Duration
	refresh      time.Duration
}

// NewHandlers wires the handler set.
func NewHandlers(
	cfg *config.Config,
	d *dialect.Dialect,
	tr *transport.Transport,
	registry *portal.Registry,
	admin *portal.MemoryConfig,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		registry:     registry,
		admin:        admin,
		metrics:      metrics,
		log:          log.Named("api"),
		dialect:      d,
		transport:    tr,
		verifyTLS:    cfg.CMS.EnableSSLVerify,
		reloginDelay: cfg.CMS.ReloginDelay,
		refresh:      cfg.CMS.RefreshInterval,
	}
}

// resolve snapshots the current admin-settable backend wiring.
func (h *Handlers) resolve() (*dialect.Dialect, *transport.Transport, time.Duration) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dialect, h.transport, h.reloginDelay
}

// authenticator builds the per-request state machine over one session. The
// response headers act as the header sink so a fresh login reaches the
// browser on the same round trip.
func (h *Handlers) authenticator(c *gin.Context, session *portal.Session) *auth.Authenticator {
	d, tr, reloginDelay := h.resolve()
	return auth.New(auth.Options{
		AppName:      "cms",
		UserID:       session.UserID,
		Dialect:      d,
		Transport:    tr,
		Store:        session.Store,
		Credentials:  session.Credentials,
		ReloginDelay: reloginDelay,
		HeaderSink:   c.Writer.Header(),
		Metrics:      h.metrics,
		Log:          h.log,
	})
}

func (h *Handlers) client(c *gin.Context, session *portal.Session) *rpc.Client {
	d, tr, _ := h.resolve()
	return rpc.New(h.authenticator(c, session), tr, d, h.log)
}

// session resolves the relay session cookie. A missing or unknown cookie
// yields nil.
func (h *Handlers) session(c *gin.Context) *portal.Session {
	id, err := c.Cookie(SessionCookie)
	if err != nil || id == "" {
		return nil
	}
	session, ok := h.registry.Lookup(id)
	if !ok {
		return nil
	}
	return session
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login is the portal login hook: it replays the intercepted credentials
// against the CMS and hands the browser both the relay session cookie and
// the CMS auth cookies.
func (h *Handlers) Login(c *gin.Context) {
	if portal.IgnoreRequest(c.Request) {
		c.Status(stdhttp.StatusNoContent)
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	session := h.registry.Create(req.Username, portal.StaticCredentials{
		UserID:   req.Username,
		Password: req.Password,
	})
	authenticator := h.authenticator(c, session)
	if err := authenticator.EnsureLoggedIn(c.Request.Context()); err != nil {
		h.registry.Remove(session.ID)
		h.log.Warn("cms login failed", zap.String("user", req.Username), zap.Error(err))
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "unable to log into the external system"})
		return
	}

	c.SetCookie(SessionCookie, session.ID, int(h.cfg.Sessions.TTL/time.Second), "/", "", false, true)
	c.JSON(stdhttp.StatusOK, gin.H{
		"status":          authenticator.LoginStatus().String(),
		"refreshInterval": int(h.refreshInterval() / time.Second),
	})
}

// Logout is the portal logout hook. Session removal happens regardless of
// the CMS answer; the backend session is best-effort terminated.
func (h *Handlers) Logout(c *gin.Context) {
	if portal.IgnoreRequest(c.Request) {
		c.Status(stdhttp.StatusNoContent)
		return
	}

	session := h.session(c)
	if session == nil {
		c.JSON(stdhttp.StatusOK, gin.H{"status": auth.StatusUnknown.String()})
		return
	}

	authenticator := h.authenticator(c, session)
	if err := authenticator.Logout(c.Request.Context()); err != nil {
		h.log.Warn("cms logout failed", zap.String("user", session.UserID), zap.Error(err))
	}
	h.registry.Remove(session.ID)
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(stdhttp.StatusOK, gin.H{"status": auth.StatusLoggedOut.String()})
}

// Refresh is the browser keepalive. It pings the CMS only for logged-in
// sessions and always advertises the clamped interval so client timers
// stay honest.
func (h *Handlers) Refresh(c *gin.Context) {
	interval := int(h.refreshInterval() / time.Second)

	session := h.session(c)
	if session == nil {
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "no relay session", "refreshInterval": interval})
		return
	}

	authenticator := h.authenticator(c, session)
	refreshed, err := authenticator.Refresh(c.Request.Context())
	if err != nil {
		h.log.Warn("session refresh failed", zap.String("user", session.UserID), zap.Error(err))
		c.JSON(stdhttp.StatusBadGateway, gin.H{"error": "cms unreachable", "refreshInterval": interval})
		return
	}
	authenticator.EmitAuthHeaders(c.Writer.Header())

	c.JSON(stdhttp.StatusOK, gin.H{
		"refreshed":       refreshed,
		"status":          authenticator.LoginStatus().String(),
		"refreshInterval": interval,
	})
}

// Status reports the cached login status without touching the CMS.
func (h *Handlers) Status(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		c.JSON(stdhttp.StatusOK, gin.H{"status": auth.StatusUnknown.String()})
		return
	}
	authenticator := h.authenticator(c, session)
	c.JSON(stdhttp.StatusOK, gin.H{
		"status": authenticator.LoginStatus().String(),
		"user":   session.UserID,
	})
}

// Embed returns the URL the portal places into its iframe.
func (h *Handlers) Embed(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "no relay session"})
		return
	}

	articleID, _ := strconv.Atoi(c.Query("articleId"))
	editMode := c.Query("edit") == "1" || c.Query("edit") == "true"
	client := h.client(c, session)
	c.JSON(stdhttp.StatusOK, gin.H{"url": client.EmbedURL(articleID, editMode)})
}

// Health is the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	d, _, _ := h.resolve()
	c.JSON(stdhttp.StatusOK, gin.H{
		"status":  "ok",
		"dialect": d.Name,
	})
}

// refreshInterval applies the lower clamp to the configured keepalive.
func (h *Handlers) refreshInterval() time.Duration {
	h.mu.RLock()
	interval := h.refresh
	h.mu.RUnlock()
	if interval < config.MinRefreshInterval {
		interval = config.MinRefreshInterval
	}
	return interval
}
