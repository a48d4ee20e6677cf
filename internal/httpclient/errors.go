package httpclient

import "fmt"

// TransportError is a network-level failure: the request never produced an
// HTTP response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport error: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is returned when the authentication call itself fails.
// StatusCode is zero when the call failed at the transport level.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a non-200 response from a data endpoint. A 401 that survives
// the single re-authentication retry is reported as an APIError too.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
