package presence

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SetConnected is the shared set holding every currently-connected user ID,
// used for bulk presence queries ("which of my friends are online").
const SetConnected = "users:connected"

// KV is the subset of nats.KeyValue the directory needs. Record TTLs are a
// property of the backing bucket (set at creation time); a Put on an existing
// key restarts its TTL window, which is how heartbeats keep a record alive.
type KV interface {
	Put(key string, value []byte) (uint64, error)
	Get(key string) (nats.KeyValueEntry, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Keys(opts ...nats.WatchOpt) ([]string, error)
}

// Directory is the cross-process presence state: user ID → routing key, plus
// named membership sets. Every operation is a single round trip against the
// shared store; there is no local cache to diverge. Absence of a record means
// "not routable", not necessarily "offline": the TTL may have lapsed while
// the connection is still up, and the next heartbeat re-registers it.
type Directory struct {
	routes KV
	sets   map[string]KV
}

// NewDirectory builds a directory over the routing bucket and the named set
// buckets. All writes are last-write-wins; there is no cross-process locking.
func NewDirectory(routes KV, sets map[string]KV) *Directory {
	return &Directory{routes: routes, sets: sets}
}

// Set records routingKey as the live connection for userID, replacing any
// previous record. Also used as the heartbeat refresh: re-putting the same
// value restarts the bucket TTL.
func (d *Directory) Set(userID, routingKey string) error {
	_, err := d.routes.Put(userID, []byte(routingKey))
	return err
}

// Get returns the routing key currently serving userID. The second return is
// false when the user has no record (expired or never registered).
func (d *Directory) Get(userID string) (string, bool, error) {
	entry, err := d.routes.Get(userID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(entry.Value()), true, nil
}

// Delete removes the presence record for userID. Deleting an absent record
// is not an error.
func (d *Directory) Delete(userID string) error {
	err := d.routes.Delete(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

// DeleteRoute removes the record only if it still points at routingKey.
// A disconnect racing a reconnect must not delete the newer registration.
// The check-then-delete is not atomic, but last-write-wins semantics make
// the narrow window harmless.
func (d *Directory) DeleteRoute(userID, routingKey string) error {
	current, ok, err := d.Get(userID)
	if err != nil {
		return err
	}
	if !ok || current != routingKey {
		return nil
	}
	return d.Delete(userID)
}

func (d *Directory) set(name string) (KV, error) {
	kv, ok := d.sets[name]
	if !ok {
		return nil, fmt.Errorf("unknown presence set %q", name)
	}
	return kv, nil
}

// AddToSet adds userID to the named set. Idempotent.
func (d *Directory) AddToSet(name, userID string) error {
	kv, err := d.set(name)
	if err != nil {
		return err
	}
	_, err = kv.Put(userID, []byte("1"))
	return err
}

// RemoveFromSet removes userID from the named set. Idempotent.
func (d *Directory) RemoveFromSet(name, userID string) error {
	kv, err := d.set(name)
	if err != nil {
		return err
	}
	err = kv.Delete(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

// InSet reports whether userID is a member of the named set.
func (d *Directory) InSet(name, userID string) (bool, error) {
	kv, err := d.set(name)
	if err != nil {
		return false, err
	}
	if _, err := kv.Get(userID); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Members returns all user IDs in the named set.
func (d *Directory) Members(name string) ([]string, error) {
	kv, err := d.set(name)
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// Connected reports whether userID is in the connected set.
func (d *Directory) Connected(userID string) (bool, error) {
	return d.InSet(SetConnected, userID)
}
