// Package dialect isolates every markup-dependent constant of the embedded
// CMS behind one value so that supporting a new CMS release means adding a
// dialect, not touching the session state machine.
//
// Two dialects are supported, matching the two backend markups observed in
// the wild:
//   - Rex4: no CSRF tokens, "loginformular" login form, regex-friendly
//     article tables, success checks based on localized status strings in
//     redirect URLs.
//   - Rex5: "_csrf_token" hidden fields, "rex-form-login" login form,
//     data-article-id row attributes, DOM-based success checks.
package dialect
