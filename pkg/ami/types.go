package ami

import "errors"

// SessionState is the connection/auth lifecycle of the management session.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrAuthFailed is returned when the login response lacks the success token.
	ErrAuthFailed = errors.New("ami: authentication failed")
	// ErrNoLoginResponse is returned when the peer closes or times out before answering the login.
	ErrNoLoginResponse = errors.New("ami: no login response")
)
