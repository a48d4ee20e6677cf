package auth

import "sync"

// Credentials identify a CyberSponse user on a given host.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// Key is the token scope for these credentials. Two credential pairs never
// share a key unless their concatenated username and password are equal.
func (c Credentials) Key() string {
	return c.Username + c.Password
}

// TokenCache holds bearer tokens for the lifetime of the process. It has no
// expiry of its own: a 401 from the API is what triggers a refresh.
//
// Concurrent misses for the same key are not deduplicated. Each caller
// authenticates and the last Set wins.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewTokenCache creates an empty token cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]string)}
}

// Get returns the token stored for key.
func (tc *TokenCache) Get(key string) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	token, ok := tc.tokens[key]
	return token, ok
}

// Set stores token for key, replacing any previous value.
func (tc *TokenCache) Set(key, token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.tokens[key] = token
}

// Len returns the number of cached tokens.
func (tc *TokenCache) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.tokens)
}
