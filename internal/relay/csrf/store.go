// Package csrf extracts and replays the per-operation anti-forgery tokens
// the CMS hides in its HTML responses.
package csrf

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/logging"
)

// Operation keys a token is scoped to. A token scraped for one operation
// must not be replayed on another; the CMS answers that with a detectable
// mismatch.
const (
	OpLogin         = "login"
	OpArticleAdd    = "article_add"
	OpArticleMove   = "article_move"
	OpArticleDelete = "article_delete"
	OpArticleEdit   = "article_edit"

	// OpAny holds the page-level token some responses carry outside any
	// operation context. Used as fallback when no scoped token is known.
	OpAny = "*"
)

// apiCallField names the hidden field (or query parameter) identifying the
// operation a token belongs to.
const apiCallField = "rex-api-call"

// Store maps operation keys to the latest known token. New tokens
// overwrite old ones for the same key, other keys are left untouched.
type Store struct {
	field  string // hidden-field name, empty disables the store entirely
	tokens map[string]string
	log    *logging.Logger
}

// NewStore creates a store for the dialect's token field name. An empty
// field name yields an inert store (the legacy dialect has no tokens).
func NewStore(field string, log *logging.Logger) *Store {
	return &Store{
		field:  field,
		tokens: map[string]string{},
		log:    log,
	}
}

// Enabled reports whether the dialect uses CSRF tokens at all.
func (s *Store) Enabled() bool { return s.field != "" }

// Token returns the stored token for an operation, falling back to the
// page-level token.
func (s *Store) Token(op string) string {
	if token, ok := s.tokens[op]; ok {
		return token
	}
	return s.tokens[OpAny]
}

// Tokens returns a copy of the map for persistence.
func (s *Store) Tokens() map[string]string {
	out := make(map[string]string, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Restore replaces the map with a previously persisted copy.
func (s *Store) Restore(tokens map[string]string) {
	s.tokens = map[string]string{}
	for k, v := range tokens {
		s.tokens[k] = v
	}
}

// Attach injects the operation's token into the form body. Reports whether
// a token was available.
func (s *Store) Attach(values url.Values, op string) bool {
	if !s.Enabled() || values == nil {
		return false
	}
	token := s.Token(op)
	if token == "" {
		return false
	}
	values.Set(s.field, token)
	return true
}

// QueryFragment renders the token as a query-string suffix ("&field=token")
// for the flows that require the token in the URL as well as the body.
// Empty when no token is known.
func (s *Store) QueryFragment(op string) string {
	if !s.Enabled() {
		return ""
	}
	token := s.Token(op)
	if token == "" {
		return ""
	}
	return "&" + s.field + "=" + url.QueryEscape(token)
}

// onclickTokenRe matches tokens embedded in inline click handlers, e.g.
// onclick="... index.php?rex-api-call=article_delete&_csrf_token=XYZ ...".
var onclickTokenRe = regexp.MustCompile(apiCallField + `=([a-z_]+)&(?:amp;)?_csrf_token=([A-Za-z0-9_-]+)`)

// Scan walks one CMS response and records every token it can attribute to
// an operation. Strategies are tried in a fixed order per context; the
// first hit for a given context wins.
func (s *Store) Scan(doc *goquery.Document, content string) {
	if !s.Enabled() || doc == nil {
		return
	}

	// 1. Login form hidden field.
	loginForm := doc.Find("form").FilterFunction(func(_ int, form *goquery.Selection) bool {
		return form.Find(`input[name="rex_user_login"]`).Length() > 0
	})
	if s.scanHiddenField(loginForm, OpLogin) {
		s.log.Debug("csrf token scraped", zap.String("op", OpLogin))
	}

	// 2. Table rows marked for action, paired with the action-name field.
	doc.Find("tr.mark, tr.rex-state-marked").Each(func(_ int, row *goquery.Selection) {
		op, ok := row.Find(`input[type="hidden"][name="` + apiCallField + `"]`).Attr("value")
		if !ok || op == "" {
			return
		}
		if s.scanHiddenField(row, op) {
			s.log.Debug("csrf token scraped", zap.String("op", op))
		}
	})

	// 3. Tokens inside inline onclick snippets.
	doc.Find("[onclick]").Each(func(_ int, node *goquery.Selection) {
		snippet, _ := node.Attr("onclick")
		if m := onclickTokenRe.FindStringSubmatch(snippet); m != nil {
			s.tokens[m[1]] = m[2]
		}
	})

	// 4. Tokens in anchor href query strings.
	doc.Find("a[href]").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		s.scanHref(href)
	})

	// Fallback: the page-level token used by the plain send path.
	if token, ok := doc.Find(`input[type="hidden"][name="` + s.field + `"]`).First().Attr("value"); ok && token != "" {
		s.tokens[OpAny] = token
	}
}

// scanHiddenField records the token of the first hidden token field inside
// the given context. Reports whether one was found.
func (s *Store) scanHiddenField(context *goquery.Selection, op string) bool {
	token, ok := context.Find(`input[type="hidden"][name="` + s.field + `"]`).First().Attr("value")
	if !ok || token == "" {
		return false
	}
	s.tokens[op] = token
	return true
}

// scanHref extracts a token/operation pair from an anchor target.
func (s *Store) scanHref(href string) {
	idx := strings.Index(href, "?")
	if idx < 0 {
		return
	}
	query, err := url.ParseQuery(href[idx+1:])
	if err != nil {
		return
	}
	token := query.Get(s.field)
	op := query.Get(apiCallField)
	if token == "" || op == "" {
		return
	}
	s.tokens[op] = token
}

// IsMismatch reports whether the response flags a token mismatch: any
// rendered alert or error block whose text mentions "csrf". The owner of
// the store resends the identical request exactly once on mismatch.
func IsMismatch(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	mismatch := false
	doc.Find(".alert, .rex-message, .rex-warning, .alert-danger, .rex-error").EachWithBreak(func(_ int, block *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(block.Text()), "csrf") {
			mismatch = true
			return false
		}
		return true
	})
	return mismatch
}
