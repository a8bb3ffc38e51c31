package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/apetrei/audioscope/internal/history"
	"github.com/apetrei/audioscope/pkg/dsp"
	"github.com/apetrei/audioscope/pkg/telemetry"
)

func testGateway(store history.Store, cfg Config) *Gateway {
	if cfg.Session.HandshakeTimeout == 0 {
		cfg.Session.HandshakeTimeout = time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 32
	}
	return New(cfg, dsp.New(dsp.DefaultConfig()), store, nil, nil)
}

func TestGateway_ProducerSupersession(t *testing.T) {
	g := testGateway(nil, Config{})
	ctx := context.Background()

	first := newFakeConn("producer-1")
	firstErr := make(chan error, 1)
	go func() { firstErr <- g.ServeProducer(ctx, first) }()

	// Let the first producer reach its handshake read before displacing it.
	time.Sleep(20 * time.Millisecond)

	second := newFakeConn("producer-2")
	secondErr := make(chan error, 1)
	go func() { secondErr <- g.ServeProducer(ctx, second) }()

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("first producer ended with %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first producer session did not end after supersession")
	}
	if !first.isClosed() {
		t.Error("superseded producer connection left open")
	}
	if !g.HasProducer() {
		t.Error("gateway lost the new producer while evicting the old one")
	}

	second.endInput()
	<-secondErr
	if g.HasProducer() {
		t.Error("producer slot still held after the session ended")
	}
}

func TestGateway_ConsumerReceivesSnapshotFirst(t *testing.T) {
	store := history.NewMemStore(100)
	for ts := uint32(1); ts <= 5; ts++ {
		_ = store.Add(context.Background(), history.Record{
			Update: telemetry.Update{Timestamp: ts},
		})
	}

	g := testGateway(store, Config{InitialHistory: 3, PingInterval: time.Minute})

	conn := newFakeConn("dash")
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- g.ServeConsumer(ctx, conn) }()

	select {
	case msg := <-conn.writes:
		var snap telemetry.Snapshot
		if err := json.Unmarshal(msg.data, &snap); err != nil {
			t.Fatalf("snapshot did not parse: %v", err)
		}
		if snap.Type != telemetry.SnapshotType {
			t.Errorf("snapshot type = %q, want %q", snap.Type, telemetry.SnapshotType)
		}
		if len(snap.Records) != 3 {
			t.Fatalf("snapshot holds %d records, want 3", len(snap.Records))
		}
		for i, want := range []uint32{3, 4, 5} {
			if snap.Records[i].Timestamp != want {
				t.Errorf("snapshot[%d].Timestamp = %d, want %d", i, snap.Records[i].Timestamp, want)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot written to new consumer")
	}

	cancel()
	<-done
}

func TestGateway_SlowConsumerDoesNotStallOthers(t *testing.T) {
	g := testGateway(nil, Config{QueueSize: 4, PingInterval: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := newFakeConn("dash-slow")
	slow.writeBlock = make(chan struct{}) // never released

	fast := newFakeConn("dash-fast")

	slowDone := make(chan error, 1)
	fastDone := make(chan error, 1)
	go func() { slowDone <- g.ServeConsumer(ctx, slow) }()
	go func() { fastDone <- g.ServeConsumer(ctx, fast) }()

	waitForConsumers(t, g, 2)

	for i := 0; i < 20; i++ {
		g.registry.Broadcast(ctx, []byte{byte(i)})
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 10 {
		select {
		case <-fast.writes:
			received++
		case <-timeout:
			t.Fatalf("fast consumer got only %d updates while slow consumer stalled", received)
		}
	}

	cancel()
	<-slowDone
	<-fastDone
}

func TestGateway_EvictsUnresponsiveConsumer(t *testing.T) {
	g := testGateway(nil, Config{PingInterval: 10 * time.Millisecond, PingGrace: 1})
	conn := newFakeConn("dash")
	conn.setPingErr(errors.New("no pong"))

	done := make(chan error, 1)
	go func() { done <- g.ServeConsumer(context.Background(), conn) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeConsumer returned %v, want nil for ping eviction", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unresponsive consumer was not evicted")
	}
	if got := conn.closedReason(); got != "unresponsive" {
		t.Errorf("close reason = %q, want %q", got, "unresponsive")
	}
	if n := g.ConsumerCount(); n != 0 {
		t.Errorf("ConsumerCount = %d, want 0", n)
	}
}

func TestGateway_UpdateAnalyzerConfigAppliesToNextFrame(t *testing.T) {
	g := testGateway(nil, Config{})

	cfg := dsp.DefaultConfig()
	cfg.FilterMode = dsp.FilterLowPass
	cfg.CutoffLow = 1000
	g.UpdateAnalyzerConfig(cfg)

	got := g.analyzer.Config()
	if got.FilterMode != dsp.FilterLowPass || got.CutoffLow != 1000 {
		t.Errorf("analyzer config = %+v, filter settings not applied", got)
	}
}

func waitForConsumers(t *testing.T, g *Gateway, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for g.ConsumerCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d consumers registered", g.ConsumerCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
