package csrf

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexrelay/rexrelay/internal/logging"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func newStore() *Store {
	return NewStore("_csrf_token", logging.NewNop())
}

func TestScanLoginForm(t *testing.T) {
	doc := parseDoc(t, `
		<form class="rex-form-login" method="post">
			<input type="text" name="rex_user_login"/>
			<input type="password" name="rex_user_psw"/>
			<input type="hidden" name="_csrf_token" value="login-tok"/>
		</form>`)

	s := newStore()
	s.Scan(doc, "")
	assert.Equal(t, "login-tok", s.Token(OpLogin))
}

func TestScanMarkedRows(t *testing.T) {
	doc := parseDoc(t, `
		<table><tbody>
			<tr class="mark">
				<td><input type="hidden" name="rex-api-call" value="article_move"/>
				<input type="hidden" name="_csrf_token" value="move-tok"/></td>
			</tr>
			<tr>
				<td><input type="hidden" name="rex-api-call" value="article_delete"/>
				<input type="hidden" name="_csrf_token" value="ignored"/></td>
			</tr>
		</tbody></table>`)

	s := newStore()
	s.Scan(doc, "")
	assert.Equal(t, "move-tok", s.Token(OpArticleMove))
	// unmarked rows are not an extraction context
	assert.Equal(t, "", s.tokens[OpArticleDelete])
}

func TestScanOnclickSnippet(t *testing.T) {
	doc := parseDoc(t, `
		<a onclick="location.href='index.php?rex-api-call=article_delete&_csrf_token=del-tok';return false;">x</a>`)

	s := newStore()
	s.Scan(doc, "")
	assert.Equal(t, "del-tok", s.Token(OpArticleDelete))
}

func TestScanAnchorHref(t *testing.T) {
	doc := parseDoc(t, `
		<a href="index.php?page=structure&rex-api-call=article_add&_csrf_token=add-tok">add</a>`)

	s := newStore()
	s.Scan(doc, "")
	assert.Equal(t, "add-tok", s.Token(OpArticleAdd))
}

func TestScanPageLevelFallback(t *testing.T) {
	doc := parseDoc(t, `
		<form><input type="hidden" name="_csrf_token" value="page-tok"/></form>`)

	s := newStore()
	s.Scan(doc, "")

	// no scoped token for the op, fallback applies
	assert.Equal(t, "page-tok", s.Token(OpArticleMove))
}

func TestScanOverwritesOnlySeenKeys(t *testing.T) {
	s := newStore()
	s.Restore(map[string]string{OpArticleMove: "old-move", OpArticleAdd: "old-add"})

	doc := parseDoc(t, `
		<table><tbody>
			<tr class="mark">
				<td><input type="hidden" name="rex-api-call" value="article_move"/>
				<input type="hidden" name="_csrf_token" value="new-move"/></td>
			</tr>
		</tbody></table>`)
	s.Scan(doc, "")

	assert.Equal(t, "new-move", s.Token(OpArticleMove))
	assert.Equal(t, "old-add", s.Token(OpArticleAdd))
}

func TestAttachAndQueryFragment(t *testing.T) {
	s := newStore()
	s.Restore(map[string]string{OpArticleMove: "tok/1"})

	values := url.Values{"save": {"1"}}
	assert.True(t, s.Attach(values, OpArticleMove))
	assert.Equal(t, "tok/1", values.Get("_csrf_token"))
	assert.Equal(t, "&_csrf_token=tok%2F1", s.QueryFragment(OpArticleMove))

	assert.False(t, s.Attach(url.Values{}, "unknown_op"))
	assert.Equal(t, "", s.QueryFragment("unknown_op"))
}

func TestDisabledStoreIsInert(t *testing.T) {
	s := NewStore("", logging.NewNop())
	doc := parseDoc(t, `<input type="hidden" name="_csrf_token" value="tok"/>`)

	s.Scan(doc, "")
	assert.False(t, s.Enabled())
	assert.False(t, s.Attach(url.Values{}, OpLogin))
	assert.Empty(t, s.Tokens())
}

func TestIsMismatch(t *testing.T) {
	assert.True(t, IsMismatch(parseDoc(t, `<div class="alert">CSRF token mismatch!</div>`)))
	assert.True(t, IsMismatch(parseDoc(t, `<div class="rex-message">Csrf-Token ungültig</div>`)))
	assert.False(t, IsMismatch(parseDoc(t, `<div class="alert">wrong password</div>`)))
	assert.False(t, IsMismatch(parseDoc(t, `<p>csrf mentioned outside an alert</p>`)))
}
