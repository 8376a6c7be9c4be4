package auth

import "fmt"

// LoginError means the CMS rejected the credentials or the status stayed
// non-logged-in after a login attempt. It carries enough context for a
// support engineer reading one log line.
type LoginError struct {
	UserID string
	Status Status
	Err    error
}

// Error implements the error interface.
func (e *LoginError) Error() string {
	msg := fmt.Sprintf("unable to log into the CMS backend (user: %s, login-status: %s)", e.UserID, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *LoginError) Unwrap() error { return e.Err }

// RedirectError means the CMS answered with an absolute Location header.
// Following it could carry the session off-host, so it is refused.
type RedirectError struct {
	Location string
}

// Error implements the error interface.
func (e *RedirectError) Error() string {
	return fmt.Sprintf("refusing to follow absolute location header: %s", e.Location)
}

// EmptyResponseError means the CMS answered with an empty body where
// classifiable content was required.
type EmptyResponseError struct {
	Path string
}

// Error implements the error interface.
func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("empty response from %s", e.Path)
}
