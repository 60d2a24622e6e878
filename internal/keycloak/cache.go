package keycloak

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RegistrationCache is a JSON scratch file recording which apps the gateway
// has already registered in the realm. It lets repeated startups skip
// redundant admin API calls; the realm stays authoritative and the cache is
// safe to delete at any time.
type RegistrationCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ClientID     string    `json:"client_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// NewRegistrationCache loads the cache file at path, or starts empty if the
// file does not exist yet.
func NewRegistrationCache(path string) (*RegistrationCache, error) {
	c := &RegistrationCache{
		path:    path,
		entries: make(map[string]cacheEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read registration cache: %w", err)
	}

	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt cache is not fatal; registration falls back to
		// asking the realm.
		return c, nil
	}
	for _, e := range entries {
		c.entries[e.ClientID] = e
	}
	return c, nil
}

// Has reports whether the app was registered by a previous startup.
func (c *RegistrationCache) Has(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[clientID]
	return ok
}

// Record marks the app as registered and persists the cache file.
func (c *RegistrationCache) Record(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[clientID] = cacheEntry{
		ClientID:     clientID,
		RegisteredAt: time.Now().UTC(),
	}
	return c.save()
}

// Forget removes the app from the cache and persists the cache file.
// Used when an app is deleted through the admin API.
func (c *RegistrationCache) Forget(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, clientID)
	return c.save()
}

// save writes the cache file. Caller must hold the lock.
func (c *RegistrationCache) save() error {
	entries := make([]cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registration cache: %w", err)
	}

	const cacheFileMode = 0o600
	if err := os.WriteFile(c.path, data, cacheFileMode); err != nil {
		return fmt.Errorf("failed to write registration cache: %w", err)
	}
	return nil
}
