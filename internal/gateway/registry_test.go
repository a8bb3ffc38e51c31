package gateway

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_BroadcastDropsOldestWhenFull(t *testing.T) {
	r := NewRegistry(2, nil, nil)
	c := r.Register(newFakeConn("dash-1"))
	defer r.Unregister(c)

	for _, p := range []string{"a", "b", "c"} {
		r.Broadcast(context.Background(), []byte(p))
	}

	got := drainQueue(t, c, 2)
	if got[0] != "b" || got[1] != "c" {
		t.Errorf("queue after overflow = %v, want [b c]", got)
	}
}

func TestRegistry_BroadcastReachesAllConsumers(t *testing.T) {
	r := NewRegistry(8, nil, nil)
	c1 := r.Register(newFakeConn("dash-1"))
	c2 := r.Register(newFakeConn("dash-2"))
	defer r.Unregister(c1)
	defer r.Unregister(c2)

	r.Broadcast(context.Background(), []byte("update"))

	for _, c := range []*consumer{c1, c2} {
		got := drainQueue(t, c, 1)
		if got[0] != "update" {
			t.Errorf("consumer %d got %q, want %q", c.id, got[0], "update")
		}
	}
}

func TestRegistry_BroadcastCompletesWithFullQueues(t *testing.T) {
	r := NewRegistry(1, nil, nil)
	c := r.Register(newFakeConn("dash-1"))
	defer r.Unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.Broadcast(context.Background(), []byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a consumer that never reads")
	}
}

func TestRegistry_AcquireProducerSupersedes(t *testing.T) {
	r := NewRegistry(8, nil, nil)

	old := newFakeConn("producer-1")
	cancelled := make(chan struct{})
	if displaced := r.AcquireProducer(old, func() { close(cancelled) }); displaced {
		t.Error("first AcquireProducer reported a displaced predecessor")
	}

	next := newFakeConn("producer-2")
	if displaced := r.AcquireProducer(next, func() {}); !displaced {
		t.Error("second AcquireProducer did not report displacement")
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded producer's context was not cancelled")
	}
	if !old.isClosed() {
		t.Error("superseded producer connection was not closed")
	}

	if r.ReleaseProducer(old) {
		t.Error("superseded producer released the slot held by its successor")
	}
	if !r.HasProducer() {
		t.Error("producer slot empty after stale release")
	}
	if !r.ReleaseProducer(next) {
		t.Error("current producer failed to release its own slot")
	}
	if r.HasProducer() {
		t.Error("producer slot still occupied after release")
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(8, nil, nil)
	c := r.Register(newFakeConn("dash-1"))

	r.Unregister(c)
	r.Unregister(c)

	if n := r.ConsumerCount(); n != 0 {
		t.Errorf("ConsumerCount = %d, want 0", n)
	}
}

func TestRegistry_CloseAllEvictsEveryone(t *testing.T) {
	r := NewRegistry(8, nil, nil)
	conns := []*fakeConn{newFakeConn("dash-1"), newFakeConn("dash-2")}
	for _, c := range conns {
		r.Register(c)
	}

	r.CloseAll("shutting down")

	if n := r.ConsumerCount(); n != 0 {
		t.Errorf("ConsumerCount = %d, want 0", n)
	}
	for _, c := range conns {
		if !c.isClosed() {
			t.Errorf("consumer %s not closed", c.RemoteAddr())
		}
		if got := c.closedReason(); got != "shutting down" {
			t.Errorf("close reason = %q, want %q", got, "shutting down")
		}
	}
}

// drainQueue reads exactly n queued payloads, failing the test on timeout.
func drainQueue(t *testing.T, c *consumer, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		select {
		case p := <-c.queue:
			out = append(out, string(p))
		case <-time.After(time.Second):
			t.Fatalf("queue drained only %d of %d payloads", len(out), n)
		}
	}
	return out
}
