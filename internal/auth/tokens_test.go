package auth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsKey(t *testing.T) {
	a := Credentials{Host: "https://soar", Username: "alice", Password: "secret"}
	b := Credentials{Host: "https://soar", Username: "bob", Password: "secret"}

	assert.Equal(t, "alicesecret", a.Key())
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestTokenCacheGetSet(t *testing.T) {
	tc := NewTokenCache()

	_, ok := tc.Get("alicesecret")
	assert.False(t, ok)

	tc.Set("alicesecret", "tok-1")
	tc.Set("bobsecret", "tok-2")

	tok, ok := tc.Get("alicesecret")
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	tc.Set("alicesecret", "tok-3")
	tok, _ = tc.Get("alicesecret")
	assert.Equal(t, "tok-3", tok)

	tok, _ = tc.Get("bobsecret")
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, tc.Len())
}

func TestTokenCacheConcurrentWriters(t *testing.T) {
	tc := NewTokenCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.Set("key", "fresh")
			tc.Get("key")
		}()
	}
	wg.Wait()

	tok, ok := tc.Get("key")
	require.True(t, ok)
	assert.Equal(t, "fresh", tok)
}
