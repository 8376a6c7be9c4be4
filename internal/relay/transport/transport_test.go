package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexrelay/rexrelay/internal/logging"
)

func newTestTransport(t *testing.T, srv *httptest.Server) *Transport {
	t.Helper()
	endpoint, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return New(Config{Endpoint: endpoint, VerifyTLS: true}, nil, logging.NewNop())
}

func TestSendGetAttachesCookieHeader(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	resp, err := tr.Send(context.Background(), http.MethodGet, "index.php", nil, "PHPSESSID=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", resp.Body)
	assert.Equal(t, "PHPSESSID=abc", gotCookie)
}

func TestSendOmitsEmptyCookieHeader(t *testing.T) {
	var hadCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadCookie = r.Header["Cookie"]
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	_, err := tr.Send(context.Background(), http.MethodGet, "index.php", nil, "")
	require.NoError(t, err)
	assert.False(t, hadCookie)
}

func TestSendPostEncodesForm(t *testing.T) {
	var gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.String()
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	form := url.Values{"rex_user_login": {"alice"}}
	_, err := tr.Send(context.Background(), http.MethodPost, "index.php", form, "")
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "rex_user_login=alice", gotBody)
}

func TestSendDoesNotFollowRedirects(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Set-Cookie", "REX5=abc123; path=/")
		w.Header().Set("Location", "index.php?page=profile")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	resp, err := tr.Send(context.Background(), http.MethodGet, "index.php", nil, "")
	require.NoError(t, err)

	// The 302 itself must surface, cookie included.
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "index.php?page=profile", resp.Headers.Get("Location"))
	assert.Contains(t, resp.Headers.Get("Set-Cookie"), "REX5=abc123")
	assert.Equal(t, 1, hits)
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tr := newTestTransport(t, srv)
	_, err := tr.Send(context.Background(), http.MethodPost, "index.php", url.Values{}, "")
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.URL, "index.php")
}

func TestSendDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("<html>compressed</html>"))
		gz.Close()
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	resp, err := tr.Send(context.Background(), http.MethodGet, "index.php", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "<html>compressed</html>", resp.Body)
}

func TestURLJoinsPaths(t *testing.T) {
	endpoint, _ := url.Parse("https://cms.example.com/redaxo/")
	tr := &Transport{base: endpoint}

	assert.Equal(t, "https://cms.example.com/redaxo/index.php", tr.URL("index.php"))
	assert.Equal(t, "https://cms.example.com/redaxo/index.php", tr.URL("/index.php"))
	assert.Equal(t, "https://cms.example.com/redaxo", tr.URL(""))
}

func TestDecodeBodyLatin1(t *testing.T) {
	headers := http.Header{"Content-Type": {"text/html; charset=iso-8859-1"}}
	body, err := decodeBody([]byte{'M', 0xFC, 'n', 'c', 'h', 'e', 'n'}, headers)
	require.NoError(t, err)
	assert.Equal(t, "München", body)
}
