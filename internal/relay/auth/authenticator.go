// Package auth drives the CMS session state machine: probing the login
// status, replaying the portal user's credentials against the native login
// form, and relaying the resulting session cookies both ways.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/infrastructure/monitoring"
	"github.com/rexrelay/rexrelay/internal/logging"
	"github.com/rexrelay/rexrelay/internal/portal"
	"github.com/rexrelay/rexrelay/internal/relay/cookies"
	"github.com/rexrelay/rexrelay/internal/relay/csrf"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

// maxRedirects bounds the relative-redirect chain one request may follow.
// The CMS answers a successful login with one redirect, anything deeper is
// a loop.
const maxRedirects = 5

// Envelope is one fully processed CMS response: the request path it
// answers, the decoded content, and the parsed document.
type Envelope struct {
	Request    string
	StatusLine string
	Headers    http.Header
	Content    string
	Doc        *goquery.Document
}

// Options wires one Authenticator instance.
type Options struct {
	// AppName keys the session record in the portal session store.
	AppName string
	// UserID is the portal user this machine authenticates as.
	UserID string
	// Dialect selects the CMS markup constants.
	Dialect *dialect.Dialect
	// Transport issues the raw requests.
	Transport *transport.Transport
	// Store persists the session record across portal requests.
	Store portal.SessionStore
	// Credentials supplies the portal login credentials on demand.
	Credentials portal.CredentialsStore
	// ReloginDelay throttles repeated status probes; a cached status
	// younger than this is trusted without a round trip.
	ReloginDelay time.Duration
	// HeaderSink, when set, receives the auth Set-Cookie batch whenever a
	// login is established. Typically the portal response headers.
	HeaderSink http.Header

	Metrics *monitoring.Metrics
	Log     *logging.Logger
}

// Authenticator owns one CMS session on behalf of one portal user. It is
// not safe for concurrent use; the portal serializes requests per session.
type Authenticator struct {
	appName      string
	userID       string
	dialect      *dialect.Dialect
	transport    *transport.Transport
	store        portal.SessionStore
	credentials  portal.CredentialsStore
	reloginDelay time.Duration
	headerSink   http.Header
	metrics      *monitoring.Metrics
	log          *logging.Logger

	jar        *cookies.Jar
	csrf       *csrf.Store
	status     Status
	loginStamp time.Time
}

// New creates the state machine and restores any persisted session.
func New(opts Options) *Authenticator {
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	a := &Authenticator{
		appName:      opts.AppName,
		userID:       opts.UserID,
		dialect:      opts.Dialect,
		transport:    opts.Transport,
		store:        opts.Store,
		credentials:  opts.Credentials,
		reloginDelay: opts.ReloginDelay,
		headerSink:   opts.HeaderSink,
		metrics:      opts.Metrics,
		log:          opts.Log.Named("auth"),
		jar:          cookies.NewJar(opts.Dialect),
		csrf:         csrf.NewStore(opts.Dialect.CSRFField, opts.Log),
	}
	a.restoreLoginStatus()
	return a
}

// LoginStatus returns the current cached status without a round trip.
func (a *Authenticator) LoginStatus() Status { return a.status }

// IsLoggedIn reports whether the cached status is logged in.
func (a *Authenticator) IsLoggedIn() bool { return a.status == StatusLoggedIn }

// CSRFTokens exposes the token store for request builders.
func (a *Authenticator) CSRFTokens() *csrf.Store { return a.csrf }

// EmitAuthHeaders re-emits the retained auth cookie batch onto an outgoing
// portal response so the browser shares the CMS session.
func (a *Authenticator) EmitAuthHeaders(out http.Header) {
	a.jar.Emit(out)
}

// SendRequest issues one CMS request inside the current session. op names
// the protected operation the request performs (empty for plain reads) and
// selects the anti-forgery token. On a detected token mismatch the request
// is resent exactly once with the tokens rescanned from the mismatch
// response; a second mismatch is returned as-is for the caller to judge.
func (a *Authenticator) SendRequest(ctx context.Context, method, path string, body url.Values, op string) (*Envelope, error) {
	env, err := a.doSendRequest(ctx, method, path, body, op, 0)
	if err != nil {
		return nil, err
	}
	if !a.csrf.Enabled() || !csrf.IsMismatch(env.Doc) {
		return env, nil
	}

	a.metrics.ObserveCSRFRetry()
	a.log.Info("csrf token mismatch, resending with rescanned token",
		zap.String("op", op),
		zap.String("path", path))

	retried, err := a.doSendRequest(ctx, method, path, body, op, 0)
	if err != nil {
		return nil, err
	}
	if csrf.IsMismatch(retried.Doc) {
		a.log.Warn("csrf token mismatch persists after retry",
			zap.String("op", op),
			zap.String("path", path))
	}
	return retried, nil
}

// doSendRequest performs one request plus its relative-redirect chain.
// Response cookies are absorbed before any redirect is followed; the login
// cookie arrives exactly there.
func (a *Authenticator) doSendRequest(ctx context.Context, method, path string, body url.Values, op string, depth int) (*Envelope, error) {
	if method == http.MethodPost {
		a.csrf.Attach(body, op)
	}
	if op != "" {
		if fragment := a.csrf.QueryFragment(op); fragment != "" {
			if !strings.Contains(path, "?") {
				fragment = "?" + fragment[1:]
			}
			path += fragment
		}
	}

	resp, err := a.transport.Send(ctx, method, path, body, a.jar.Serialize())
	if err != nil {
		return nil, err
	}
	a.jar.Absorb(resp.Headers)

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		location := resp.Headers.Get("Location")
		if strings.HasPrefix(location, "http") {
			// Absolute targets would leave the session scope; the CMS
			// only ever redirects within itself.
			return nil, &RedirectError{Location: location}
		}
		if depth >= maxRedirects {
			return nil, fmt.Errorf("redirect chain exceeds %d hops at %s", maxRedirects, path)
		}
		a.log.Debug("following relative redirect",
			zap.String("from", path),
			zap.String("to", location))
		return a.doSendRequest(ctx, http.MethodGet, location, nil, "", depth+1)
	}

	if strings.TrimSpace(resp.Body) == "" {
		return nil, &EmptyResponseError{Path: path}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse response of %s: %w", path, err)
	}
	a.csrf.Scan(doc, resp.Body)

	return &Envelope{
		Request:    path,
		StatusLine: resp.StatusLine,
		Headers:    resp.Headers,
		Content:    resp.Body,
		Doc:        doc,
	}, nil
}

// UpdateLoginStatus classifies the login state. A non-nil envelope is
// classified directly; otherwise the landing page is probed, unless the
// cached status is fresh enough and force is off.
func (a *Authenticator) UpdateLoginStatus(ctx context.Context, env *Envelope, force bool) error {
	if env == nil {
		if !force && a.status != StatusUnknown && !a.jar.Empty() &&
			time.Since(a.loginStamp) <= a.reloginDelay {
			return nil
		}
		probed, err := a.doSendRequest(ctx, http.MethodGet, a.dialect.LandingPath, nil, "", 0)
		if err != nil {
			a.status = StatusUnknown
			return err
		}
		env = probed
	}

	a.status = a.classify(env.Content)
	a.loginStamp = time.Now()
	a.log.Debug("login status updated",
		zap.String("user", a.userID),
		zap.String("status", a.status.String()))
	return nil
}

// classify maps page content to a status. The logged-out marker wins over
// the logged-in marker: a login form on the page means the session is gone
// no matter what else the page still renders.
func (a *Authenticator) classify(content string) Status {
	if a.dialect.LoggedOutRe.MatchString(content) {
		return StatusLoggedOut
	}
	if a.dialect.LoggedInRe.MatchString(content) {
		return StatusLoggedIn
	}
	return StatusUnknown
}

// Login replays the credentials against the native login form. The initial
// probe mints the login token and the bootstrap cookie; an existing session
// is logged out first so the backend never sees overlapping logins.
func (a *Authenticator) Login(ctx context.Context, creds portal.Credentials) error {
	probe, err := a.SendRequest(ctx, http.MethodGet, a.dialect.LandingPath, nil, csrf.OpLogin)
	if err != nil {
		a.metrics.ObserveLogin(false)
		return &LoginError{UserID: creds.UserID, Status: a.status, Err: err}
	}
	if err := a.UpdateLoginStatus(ctx, probe, true); err != nil {
		a.metrics.ObserveLogin(false)
		return &LoginError{UserID: creds.UserID, Status: a.status, Err: err}
	}

	if a.status == StatusLoggedIn {
		// Best effort; the jar is cleaned either way and the fresh login
		// below decides the outcome.
		if err := a.Logout(ctx); err != nil {
			a.log.Warn("logout before relogin failed", zap.Error(err))
		}
	} else {
		a.jar.Clean()
	}

	form := a.dialect.LoginForm(creds.UserID, creds.Password)
	a.log.Info("logging into cms backend",
		zap.String("user", creds.UserID),
		zap.String("form", logging.RedactedForm(form)))

	answer, err := a.SendRequest(ctx, http.MethodPost, a.dialect.LandingPath, form, csrf.OpLogin)
	if err != nil {
		a.metrics.ObserveLogin(false)
		return &LoginError{UserID: creds.UserID, Status: a.status, Err: err}
	}
	if err := a.UpdateLoginStatus(ctx, answer, true); err != nil {
		a.metrics.ObserveLogin(false)
		return &LoginError{UserID: creds.UserID, Status: a.status, Err: err}
	}

	if a.status != StatusLoggedIn {
		a.metrics.ObserveLogin(false)
		return &LoginError{UserID: creds.UserID, Status: a.status}
	}
	a.metrics.ObserveLogin(true)
	return nil
}

// EnsureLoggedIn is the idempotent entry point every protected operation
// calls first. A live session costs one probe at most; otherwise it fetches
// the portal credentials, logs in, and persists the fresh session.
func (a *Authenticator) EnsureLoggedIn(ctx context.Context) error {
	if err := a.UpdateLoginStatus(ctx, nil, false); err != nil {
		return err
	}
	if a.status == StatusLoggedIn {
		a.emitSink()
		return nil
	}

	creds, err := a.credentials.LoginCredentials()
	if err != nil {
		return &LoginError{UserID: a.userID, Status: a.status, Err: err}
	}
	if err := a.Login(ctx, creds); err != nil {
		return err
	}
	a.PersistLoginStatus()
	a.emitSink()
	return nil
}

// Refresh keeps an established session alive by touching the landing page.
// Reports false without contacting the backend when no session exists, and
// false when the probe reveals the backend dropped the session meanwhile.
func (a *Authenticator) Refresh(ctx context.Context) (bool, error) {
	if a.status != StatusLoggedIn {
		return false, nil
	}
	env, err := a.doSendRequest(ctx, http.MethodGet, a.dialect.LandingPath, nil, "", 0)
	if err != nil {
		return false, err
	}
	if err := a.UpdateLoginStatus(ctx, env, true); err != nil {
		return false, err
	}
	a.PersistLoginStatus()
	return a.status == StatusLoggedIn, nil
}

// Logout terminates the backend session. The jar is cleaned regardless of
// the outcome, so a failed logout cannot leave stale cookies behind.
// Success requires the backend to actually answer with the logged-out
// markers; anything else is an error.
func (a *Authenticator) Logout(ctx context.Context) error {
	env, err := a.doSendRequest(ctx, http.MethodGet, a.dialect.LogoutPath(), nil, "", 0)
	if err == nil {
		err = a.UpdateLoginStatus(ctx, env, true)
	}
	a.jar.Clean()
	if err != nil {
		a.status = StatusUnknown
		a.PersistLoginStatus()
		return err
	}
	a.PersistLoginStatus()
	if a.status != StatusLoggedOut {
		return fmt.Errorf("backend still reports %s after logout", a.status)
	}
	return nil
}

func (a *Authenticator) emitSink() {
	if a.headerSink != nil {
		a.jar.Emit(a.headerSink)
	}
}
