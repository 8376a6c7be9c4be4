// Package cookies keeps the minimal CMS session-cookie set that must be
// relayed between the backend and the end-user's browser.
package cookies

import (
	"net/http"
	"sort"
	"strings"

	"github.com/rexrelay/rexrelay/internal/dialect"
)

// Jar retains exactly one authoritative batch of auth cookies per portal
// session. A new batch replaces the old one, it never merges.
type Jar struct {
	dialect *dialect.Dialect
	headers []string          // raw Set-Cookie values, most recent batch
	values  map[string]string // name -> value, derived from headers
}

// NewJar creates an empty jar bound to one CMS dialect.
func NewJar(d *dialect.Dialect) *Jar {
	return &Jar{
		dialect: d,
		values:  map[string]string{},
	}
}

// match applies the dialect cookie pattern to one Set-Cookie value and
// returns name, value and whether it is a cookie worth keeping.
func (j *Jar) match(header string) (string, string, bool) {
	m := j.dialect.CookiePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Absorb takes the Set-Cookie headers of one CMS response. Only names
// matching the dialect pattern are considered, and of those only the last
// header in response order is retained as the new batch; the CMS sets at
// most one relevant cookie per response, and if it ever sets several the
// final one wins. A matching batch replaces both the headers and the
// derived value map, so cookies from earlier exchanges never accumulate.
// Responses without a matching cookie leave the jar untouched.
func (j *Jar) Absorb(headers http.Header) {
	var batch []string
	values := map[string]string{}
	for _, header := range headers.Values("Set-Cookie") {
		if name, value, ok := j.match(header); ok {
			batch = []string{header}
			values[name] = value
		}
	}
	if len(batch) > 0 {
		j.headers = batch
		j.values = values
	}
}

// Serialize renders the Cookie request-header value, empty when the jar
// holds nothing.
func (j *Jar) Serialize() string {
	if len(j.values) == 0 {
		return ""
	}
	names := make([]string, 0, len(j.values))
	for name := range j.values {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+j.values[name])
	}
	return strings.Join(pairs, "; ")
}

// Headers returns the retained raw Set-Cookie batch for persistence.
func (j *Jar) Headers() []string {
	out := make([]string, len(j.headers))
	copy(out, j.headers)
	return out
}

// Restore replaces the jar content with a previously persisted batch and
// re-derives the name/value map by re-parsing each header.
func (j *Jar) Restore(headers []string) {
	j.headers = nil
	j.values = map[string]string{}
	for _, header := range headers {
		if name, value, ok := j.match(header); ok {
			j.headers = append(j.headers, header)
			j.values[name] = value
		}
	}
}

// Clean resets the jar to the bootstrap session cookie, discarding all CMS
// auth cookies. Used before a fresh login so a stale session cannot
// interfere.
func (j *Jar) Clean() {
	bootstrap := j.dialect.BootstrapCookie
	var keptHeaders []string
	for _, header := range j.headers {
		if strings.Contains(header, bootstrap) {
			keptHeaders = append(keptHeaders, header)
		}
	}
	j.headers = keptHeaders

	kept := map[string]string{}
	if value, ok := j.values[bootstrap]; ok && len(keptHeaders) > 0 {
		kept[bootstrap] = value
	}
	j.values = kept
}

// Empty reports whether the jar holds no cookies at all.
func (j *Jar) Empty() bool {
	return len(j.headers) == 0
}

// Emit writes the retained batch as Set-Cookie headers onto an outgoing
// portal response, skipping cookies already queued with the identical
// attribute set. Some proxies cap response headers at 4k, so duplicates
// are worth avoiding.
func (j *Jar) Emit(out http.Header) {
	for _, header := range j.headers {
		if !containsCookie(out.Values("Set-Cookie"), header) {
			out.Add("Set-Cookie", header)
		}
	}
}

// containsCookie compares by parsed attribute set rather than raw string,
// so reordered attributes still count as the same cookie.
func containsCookie(existing []string, header string) bool {
	want := parseAttributes(header)
	for _, candidate := range existing {
		if equalAttributes(parseAttributes(candidate), want) {
			return true
		}
	}
	return false
}

// parseAttributes splits a Set-Cookie value into its attribute map.
// Value-less attributes (Secure, HttpOnly) map to the empty string.
func parseAttributes(header string) map[string]string {
	attrs := map[string]string{}
	for _, field := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		if len(kv) == 2 {
			attrs[key] = strings.TrimSpace(kv[1])
		} else {
			attrs[key] = ""
		}
	}
	return attrs
}

func equalAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if other, ok := b[key]; !ok || other != value {
			return false
		}
	}
	return true
}
