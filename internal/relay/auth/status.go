package auth

// Status is the derived login state of the CMS backend session. It is
// never set directly; every transition goes through UpdateLoginStatus, and
// Unknown doubles as the recovery state after any ambiguous probe.
type Status int

const (
	StatusUnknown Status = iota
	StatusLoggedIn
	StatusLoggedOut
)

// String returns the persisted wire form of the status.
func (s Status) String() string {
	switch s {
	case StatusLoggedIn:
		return "logged-in"
	case StatusLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// ParseStatus restores a status from its wire form. Unrecognized input
// maps to Unknown so a corrupted session record degrades to a re-probe.
func ParseStatus(s string) Status {
	switch s {
	case "logged-in":
		return StatusLoggedIn
	case "logged-out":
		return StatusLoggedOut
	default:
		return StatusUnknown
	}
}
