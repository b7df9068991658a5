package registry

import "sync"

// Registry maps user IDs and routing keys to live local connections. It is
// authoritative only for connections on this process. Entries are written by
// the owning connection's goroutine and the disconnect path; registration is
// last-write-wins so a reconnect race leaves the newest connection routable.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Conn
	byKey  map[string]*Conn
}

func New() *Registry {
	return &Registry{
		byUser: make(map[string]*Conn),
		byKey:  make(map[string]*Conn),
	}
}

// Register makes c the routable connection for its user. If the user already
// had a connection it is displaced and returned so the caller can close it.
func (r *Registry) Register(c *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced := r.byUser[c.UserID]
	if displaced != nil {
		delete(r.byKey, displaced.ID)
	}
	r.byUser[c.UserID] = c
	r.byKey[c.ID] = c
	return displaced
}

// Remove deregisters c, but only if it is still the current connection for
// its user. Returns false when a newer registration has already displaced it,
// in which case presence cleanup belongs to the newer connection.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byUser[c.UserID]
	if !ok || current.ID != c.ID {
		return false
	}
	delete(r.byUser, c.UserID)
	delete(r.byKey, c.ID)
	return true
}

// ByRoutingKey resolves a routing key to a live local connection. A key
// registered by another process will not resolve here.
func (r *Registry) ByRoutingKey(key string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKey[key]
	return c, ok
}

// ByUser resolves a user ID to their current local connection.
func (r *Registry) ByUser(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
