// Package transport issues single GET/POST requests to the external CMS.
//
// Redirect auto-following is disabled on purpose: the first successful
// login answers with the new session cookie on the redirect response, which
// a generic client would swallow. Callers see every 30x explicitly.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/infrastructure/monitoring"
	"github.com/rexrelay/rexrelay/internal/infrastructure/resilience"
	"github.com/rexrelay/rexrelay/internal/logging"
)

// Response is the raw result of one outbound request.
type Response struct {
	StatusCode int
	StatusLine string
	Headers    http.Header
	Body       string
}

// Error is a transport-level failure (connect refused, DNS, TLS). It
// carries the last response headers seen, if any.
type Error struct {
	URL         string
	Err         error
	LastHeaders http.Header
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("cms request to %s failed: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Config holds the transport settings.
type Config struct {
	// Endpoint is the resolved absolute URL of the CMS backend.
	Endpoint *url.URL
	// VerifyTLS toggles certificate verification (on by default).
	VerifyTLS bool
	// Timeout bounds one request including the body read.
	Timeout time.Duration
}

// Transport sends individual requests to the CMS backend.
type Transport struct {
	base    *url.URL
	client  *resty.Client
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// New creates a transport for the given endpoint.
func New(cfg Config, metrics *monitoring.Metrics, log *logging.Logger) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	// retryablehttp supplies the tuned connection pool; response-level
	// retries stay off because POSTs against the CMS mutate state.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	if httpTransport, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok {
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}
		// Compression is handled explicitly so the Content-Encoding
		// header stays visible to the decode step.
		httpTransport.DisableCompression = true
	}

	client := resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only connection-level failures of idempotent requests.
			return err != nil && r != nil && r.Request.Method == http.MethodGet
		}).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetHeader("User-Agent", "RexRelay/1.0").
		SetHeader("Accept-Encoding", "gzip")

	log.Debug("transport configured",
		zap.String("endpoint", cfg.Endpoint.String()),
		zap.Bool("verify_tls", cfg.VerifyTLS))

	return &Transport{
		base:   cfg.Endpoint,
		client: client,
		breaker: resilience.New("cms", resilience.Settings{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				log.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		metrics: metrics,
		log:     log,
	}
}

// Endpoint returns the resolved CMS base URL.
func (t *Transport) Endpoint() *url.URL { return t.base }

// URL joins a CMS-relative path onto the endpoint.
func (t *Transport) URL(path string) string {
	base := strings.TrimRight(t.base.String(), "/")
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// Send issues one request and returns the raw response without following
// redirects. body may be nil for GET; cookieHeader is attached verbatim
// when non-empty.
func (t *Transport) Send(ctx context.Context, method, path string, body url.Values, cookieHeader string) (*Response, error) {
	target := t.URL(path)

	req := t.client.R().SetContext(ctx)
	if cookieHeader != "" {
		req.SetHeader("Cookie", cookieHeader)
	}

	var encoded string
	if method == http.MethodPost {
		encoded = body.Encode()
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetHeader("Content-Length", strconv.Itoa(len(encoded))).
			SetBody(encoded)
	}

	t.log.Debug("sending cms request",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("form", logging.RedactedForm(body)))

	var resp *resty.Response
	start := time.Now()
	err := t.breaker.Execute(func() error {
		var execErr error
		resp, execErr = req.Execute(method, target)
		return execErr
	})
	if err != nil {
		t.metrics.ObserveCMSRequest(method, 0, time.Since(start))
		var lastHeaders http.Header
		if resp != nil {
			lastHeaders = resp.Header()
		}
		return nil, &Error{URL: target, Err: err, LastHeaders: lastHeaders}
	}
	t.metrics.ObserveCMSRequest(method, resp.StatusCode(), time.Since(start))

	decoded, err := decodeBody(resp.Body(), resp.Header())
	if err != nil {
		return nil, &Error{URL: target, Err: err, LastHeaders: resp.Header()}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		StatusLine: resp.Status(),
		Headers:    resp.Header(),
		Body:       decoded,
	}, nil
}
