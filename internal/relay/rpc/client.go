// Package rpc remote-controls the CMS by replaying its backend forms and
// scraping the HTML answers. The backend offers no JSON API; every success
// signal is a marker in version-pinned markup, which is why all selectors
// and column positions live in the dialect and this package treats them as
// constants, not heuristics to generalize.
package rpc

import (
	"context"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/logging"
	"github.com/rexrelay/rexrelay/internal/relay/auth"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

// Client scrapes and mutates CMS content on top of an authenticated
// session. Every operation ensures the login first, so callers never
// sequence authentication themselves.
type Client struct {
	auth      *auth.Authenticator
	transport *transport.Transport
	dialect   *dialect.Dialect
	sanitize  *bluemonday.Policy
	log       *logging.Logger
}

// New creates a content client over an authenticator.
func New(a *auth.Authenticator, tr *transport.Transport, d *dialect.Dialect, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	return &Client{
		auth:      a,
		transport: tr,
		dialect:   d,
		sanitize:  bluemonday.StrictPolicy(),
		log:       log.Named("rpc"),
	}
}

// request guarantees the login, then issues one CSRF-aware request. A nil
// form means GET.
func (c *Client) request(ctx context.Context, path string, form url.Values, op string) (*auth.Envelope, error) {
	if err := c.auth.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}
	method := http.MethodGet
	if form != nil {
		method = http.MethodPost
	}
	return c.auth.SendRequest(ctx, method, path, form, op)
}

// Ping touches the backend landing page to keep the remote session alive
// and re-emits the auth cookies to the browser.
func (c *Client) Ping(ctx context.Context, out http.Header) error {
	if _, err := c.request(ctx, c.dialect.LandingPath, nil, ""); err != nil {
		return err
	}
	if out != nil {
		c.auth.EmitAuthHeaders(out)
	}
	return nil
}

// EmbedURL returns the absolute URL placed into the portal iframe.
func (c *Client) EmbedURL(articleID int, editMode bool) string {
	if articleID <= 0 {
		return c.transport.URL("")
	}
	return c.transport.URL(c.dialect.EmbedPath(articleID, editMode))
}

// cleanText strips markup and entities from scraped cell content.
func cleanText(p *bluemonday.Policy, s string) string {
	return strings.TrimSpace(html.UnescapeString(p.Sanitize(s)))
}

func (c *Client) clean(s string) string {
	return cleanText(c.sanitize, s)
}
