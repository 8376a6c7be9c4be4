package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForName(t *testing.T) {
	d, err := ForName("")
	require.NoError(t, err)
	assert.Equal(t, Rex5, d)

	d, err = ForName("rex4")
	require.NoError(t, err)
	assert.Equal(t, Rex4, d)

	_, err = ForName("rex99")
	require.Error(t, err)
}

func TestLoginFormJavascriptFlag(t *testing.T) {
	form := Rex5.LoginForm("alice", "secret")
	assert.Equal(t, "1", form.Get("javascript"))
	assert.Equal(t, "alice", form.Get("rex_user_login"))
	assert.Equal(t, "secret", form.Get("rex_user_psw"))

	// The legacy markup predates the javascript-detection field.
	assert.Equal(t, "0", Rex4.LoginForm("alice", "secret").Get("javascript"))
}

func TestCookiePatterns(t *testing.T) {
	cases := []struct {
		header string
		rex4   bool
		rex5   bool
	}{
		{"PHPSESSID=abc; path=/", true, true},
		{"redaxo_sessid=abc", true, true},
		{"KEY_PHPSESSID=abc", true, true},
		{"REX5=abc; HttpOnly", false, true},
		{"REX123=abc", false, true},
		{"unrelated=abc", false, false},
		{"phpsessid=lowercase", true, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.rex4, Rex4.CookiePattern.MatchString(tc.header), tc.header)
		assert.Equal(t, tc.rex5, Rex5.CookiePattern.MatchString(tc.header), tc.header)
	}
}

func TestStatusMarkers(t *testing.T) {
	assert.True(t, Rex5.LoggedOutRe.MatchString(`<form action="x" class="rex-form-login">`))
	assert.False(t, Rex5.LoggedOutRe.MatchString(`<form class="loginformular">`))
	assert.True(t, Rex4.LoggedOutRe.MatchString(`<form name="loginformular">`))
	assert.True(t, Rex5.LoggedInRe.MatchString(`<a href="index.php?page=profile">P</a>`))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "index.php?rex_logout=1", Rex5.LogoutPath())
	assert.Equal(t, "index.php?page=structure&clang=1", Rex5.StructurePath(-1, 0))
	assert.Equal(t, "index.php?page=structure&clang=1&category_id=3&artstart=30", Rex5.StructurePath(3, 30))
	assert.Equal(t, "index.php?page=structure&clang=0&category_id=3", Rex4.StructurePath(3, 0))
	assert.Equal(t, "index.php?page=templates", Rex5.TemplatesPath())
	assert.Equal(t, "index.php?page=modules", Rex5.ModulesPath())
}

func TestEmbedPath(t *testing.T) {
	assert.Equal(t, "/index.php?page=content&article_id=7&mode=edit&clang=1", Rex5.EmbedPath(7, true))
	assert.Equal(t, "/../?article_id=7", Rex5.EmbedPath(7, false))
}
