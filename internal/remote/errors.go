package remote

import "fmt"

// NetworkError marks a transient delivery failure: connection failures,
// timeouts and server-side 5xx responses. Always retried with backoff.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: network failure: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// AuthError marks a rejected or unobtainable bearer credential. Transient,
// but the credential must be refreshed before the next attempt.
type AuthError struct {
	StatusCode int
	Cause      error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("remote: authentication failed: %v", e.Cause)
	}
	return fmt.Sprintf("remote: authentication failed with status %d", e.StatusCode)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ServerRejectedError marks a payload the remote authority permanently
// refused. Never retried automatically; the queue item moves to the
// dead-letter state instead.
type ServerRejectedError struct {
	StatusCode int
	Body       string
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("remote: server rejected payload with status %d: %s", e.StatusCode, e.Body)
}
