package httpclient

import "net/http"

// authState tracks where a single request is in the authenticate/retry cycle.
type authState int

const (
	stateUnauthenticated authState = iota
	stateAuthenticated
	stateRetryPending
	stateFailed
)

func (s authState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateRetryPending:
		return "retry_pending"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type retryDecision int

const (
	// decisionDone hands the response to the caller as is.
	decisionDone retryDecision = iota
	// decisionReauthenticate fetches a fresh token and replays the request.
	decisionReauthenticate
	// decisionFail reports the 401 to the caller.
	decisionFail
)

// retryPolicy decides what happens after a response. attempt counts from 0.
// Only the first 401 earns a retry.
func retryPolicy(statusCode, attempt int) retryDecision {
	if statusCode != http.StatusUnauthorized {
		return decisionDone
	}
	if attempt == 0 {
		return decisionReauthenticate
	}
	return decisionFail
}
