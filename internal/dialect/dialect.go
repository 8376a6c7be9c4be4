package dialect

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// Dialect captures the version-pinned constants of one CMS backend markup.
// All fields are read-only after construction; the package-level Rex4 and
// Rex5 values are shared across goroutines.
type Dialect struct {
	// Name identifies the dialect in configuration ("rex4", "rex5").
	Name string

	// CookiePattern matches the names of session cookies worth relaying.
	// Everything else in a Set-Cookie header is ignored.
	CookiePattern *regexp.Regexp

	// BootstrapCookie is the one cookie that survives Jar.Clean; the CMS
	// needs it to validate the login form's CSRF token.
	BootstrapCookie string

	// CSRFField is the hidden form field carrying the anti-forgery token.
	// Empty for dialects that predate CSRF protection.
	CSRFField string

	// Lang is the backend language id sent as "clang" on every form.
	Lang string

	// LandingPath is the page probed to classify the login status.
	LandingPath string

	// LoggedOutRe matches the login form; its presence means LOGGED_OUT.
	// Checked before LoggedInRe, so a page carrying both markers counts
	// as logged out.
	LoggedOutRe *regexp.Regexp

	// LoggedInRe matches the profile-page link shown only to
	// authenticated users.
	LoggedInRe *regexp.Regexp

	// MoveAnswers holds the localized "article moved" status strings the
	// backend appends to the redirect URL. The backend only ships de_de
	// and en_gb, both are accepted.
	MoveAnswers []string

	// MoveByBreadcrumb selects the DOM-based success check for article
	// moves instead of matching MoveAnswers in the redirected URL.
	MoveByBreadcrumb bool
}

// Rex4 is the legacy markup without CSRF tokens.
var Rex4 = &Dialect{
	Name:            "rex4",
	CookiePattern:   regexp.MustCompile(`(?i)^(PHPSESSID|redaxo_sessid|KEY_PHPSESSID|KEY_redaxo_sessid)=([^;]+)`),
	BootstrapCookie: "PHPSESSID",
	CSRFField:       "",
	Lang:            "0",
	LandingPath:     "index.php",
	LoggedOutRe:     regexp.MustCompile(`(?mi)<form.+loginformular`),
	LoggedInRe:      regexp.MustCompile(`(?m)index.php[?]page=profile`),
	MoveAnswers: []string{
		"Artikel wurde verschoben",
		"Article moved.",
	},
	MoveByBreadcrumb: false,
}

// Rex5 is the current markup with per-operation CSRF tokens.
var Rex5 = &Dialect{
	Name:            "rex5",
	CookiePattern:   regexp.MustCompile(`(?i)^(REX[0-9]+|PHPSESSID|redaxo_sessid|KEY_PHPSESSID|KEY_redaxo_sessid)=([^;]+)`),
	BootstrapCookie: "PHPSESSID",
	CSRFField:       "_csrf_token",
	Lang:            "1",
	LandingPath:     "index.php",
	LoggedOutRe:     regexp.MustCompile(`(?mi)<form.+rex-form-login`),
	LoggedInRe:      regexp.MustCompile(`(?m)index.php[?]page=profile`),
	MoveAnswers: []string{
		"Artikel wurde verschoben",
		"Article moved.",
	},
	MoveByBreadcrumb: true,
}

// ForName resolves a configured dialect name.
func ForName(name string) (*Dialect, error) {
	switch name {
	case "", Rex5.Name:
		return Rex5, nil
	case Rex4.Name:
		return Rex4, nil
	}
	return nil, fmt.Errorf("unknown CMS dialect %q", name)
}

// LoginForm builds the native login form fields.
func (d *Dialect) LoginForm(user, password string) url.Values {
	javascript := "1"
	if d.Name == Rex4.Name {
		javascript = "0"
	}
	return url.Values{
		"javascript":     {javascript},
		"rex_user_login": {user},
		"rex_user_psw":   {password},
	}
}

// LogoutPath is the GET target that terminates the backend session.
func (d *Dialect) LogoutPath() string {
	return d.LandingPath + "?rex_logout=1"
}

// StructurePath addresses the article listing of a category. artStart
// selects the pagination offset, categoryID < 0 means the root listing.
func (d *Dialect) StructurePath(categoryID, artStart int) string {
	path := d.LandingPath + "?page=structure&clang=" + d.Lang
	if categoryID >= 0 {
		path += "&category_id=" + strconv.Itoa(categoryID)
	}
	if artStart > 0 {
		path += "&artstart=" + strconv.Itoa(artStart)
	}
	return path
}

// TemplatesPath addresses the template listing.
func (d *Dialect) TemplatesPath() string {
	return d.LandingPath + "?page=templates"
}

// ModulesPath addresses the module listing.
func (d *Dialect) ModulesPath() string {
	return d.LandingPath + "?page=modules"
}

// EmbedPath builds the path embedded into the portal iframe. With editMode
// the backend content editor is addressed directly, otherwise the rendered
// frontend article.
func (d *Dialect) EmbedPath(articleID int, editMode bool) string {
	if editMode {
		return fmt.Sprintf("/index.php?page=content&article_id=%d&mode=edit&clang=%s", articleID, d.Lang)
	}
	return fmt.Sprintf("/../?article_id=%d", articleID)
}
