package api

import "sync"

// TokenCache is the in-memory bearer token shared between the session manager
// (writer) and the HTTP client (reader). It outlives the persisted record for
// the duration of a logout so the teardown notification can still
// authenticate after the record is gone.
type TokenCache struct {
	mu    sync.RWMutex
	token string
}

func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

func (c *TokenCache) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *TokenCache) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}
