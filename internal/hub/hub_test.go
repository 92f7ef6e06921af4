package hub

import "testing"

func TestDeliverTargetsUserSessions(t *testing.T) {
	h := New(nil)
	a1 := &Client{ID: "a1", UserID: "alice", Send: make(chan []byte, 1)}
	a2 := &Client{ID: "a2", UserID: "alice", Send: make(chan []byte, 1)}
	b := &Client{ID: "b", UserID: "bob", Send: make(chan []byte, 1)}
	h.Register(a1)
	h.Register(a2)
	h.Register(b)

	if got := h.Deliver("alice", []byte("hi")); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if len(b.Send) != 0 {
		t.Fatalf("bob should not receive alice's message")
	}
	if got := string(<-a1.Send); got != "hi" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestDeliverDropsWhenBufferFull(t *testing.T) {
	h := New(nil)
	client := &Client{ID: "c", UserID: "alice", Send: make(chan []byte, 1)}
	h.Register(client)

	if got := h.Deliver("alice", []byte("one")); got != 1 {
		t.Fatalf("expected first delivery, got %d", got)
	}
	if got := h.Deliver("alice", []byte("two")); got != 0 {
		t.Fatalf("expected drop on full buffer, got %d", got)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New(nil)
	client := &Client{ID: "c", UserID: "alice", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatalf("expected closed channel")
	}
	if got := h.Connected("alice"); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
	if got := h.Deliver("alice", []byte("x")); got != 0 {
		t.Fatalf("expected no delivery, got %d", got)
	}
}
