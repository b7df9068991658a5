package registry

import "testing"

func TestRegistry_Register(t *testing.T) {
	r := New()
	c := NewConn("user-1", 4)

	if displaced := r.Register(c); displaced != nil {
		t.Errorf("Expected no displaced connection, got %v", displaced.ID)
	}

	got, ok := r.ByUser("user-1")
	if !ok || got.ID != c.ID {
		t.Errorf("Expected ByUser to resolve registered connection")
	}

	got, ok = r.ByRoutingKey(c.ID)
	if !ok || got.UserID != "user-1" {
		t.Errorf("Expected ByRoutingKey to resolve registered connection")
	}
}

func TestRegistry_ReconnectLastWriteWins(t *testing.T) {
	r := New()
	first := NewConn("user-1", 4)
	second := NewConn("user-1", 4)

	r.Register(first)
	displaced := r.Register(second)

	if displaced == nil || displaced.ID != first.ID {
		t.Fatalf("Expected first connection to be displaced")
	}

	got, ok := r.ByUser("user-1")
	if !ok || got.ID != second.ID {
		t.Errorf("Expected newest connection to be routable, got %v", got)
	}

	if _, ok := r.ByRoutingKey(first.ID); ok {
		t.Errorf("Expected displaced routing key to no longer resolve")
	}

	if r.Len() != 1 {
		t.Errorf("Expected exactly one registered connection, got %d", r.Len())
	}
}

func TestRegistry_RemoveOnlyIfCurrent(t *testing.T) {
	r := New()
	first := NewConn("user-1", 4)
	second := NewConn("user-1", 4)

	r.Register(first)
	r.Register(second)

	// The displaced connection's disconnect path runs late; it must not tear
	// down the newer registration.
	if r.Remove(first) {
		t.Errorf("Expected Remove of displaced connection to report not current")
	}
	if _, ok := r.ByUser("user-1"); !ok {
		t.Fatalf("Expected newest connection to remain registered")
	}

	if !r.Remove(second) {
		t.Errorf("Expected Remove of current connection to succeed")
	}
	if _, ok := r.ByUser("user-1"); ok {
		t.Errorf("Expected user to be unroutable after removal")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestConn_EnqueueAfterClose(t *testing.T) {
	c := NewConn("user-1", 1)

	if !c.Enqueue([]byte(`{"event":"message"}`)) {
		t.Fatalf("Expected enqueue on open connection to succeed")
	}

	// Buffer full: drop, not block.
	if c.Enqueue([]byte(`{"event":"message"}`)) {
		t.Errorf("Expected enqueue on full buffer to report a miss")
	}

	c.Close()
	c.Close() // idempotent

	if c.Enqueue([]byte(`{}`)) {
		t.Errorf("Expected enqueue on closed connection to report a miss")
	}
	if !c.Closed() {
		t.Errorf("Expected connection to report closed")
	}
}
