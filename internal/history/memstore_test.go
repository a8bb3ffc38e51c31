package history

import (
	"context"
	"testing"
	"time"

	"github.com/apetrei/audioscope/pkg/telemetry"
)

func record(ts uint32) Record {
	return Record{
		Update:     telemetry.Update{Timestamp: ts, Volume: int(ts % 101)},
		ReceivedAt: time.Now(),
	}
}

func TestMemStore_LatestOrdering(t *testing.T) {
	s := NewMemStore(10)
	ctx := context.Background()

	for ts := uint32(1); ts <= 5; ts++ {
		if err := s.Add(ctx, record(ts)); err != nil {
			t.Fatalf("Add(%d) returned error: %v", ts, err)
		}
	}

	got := s.Latest(3)
	if len(got) != 3 {
		t.Fatalf("Latest(3) returned %d records, want 3", len(got))
	}
	for i, want := range []uint32{3, 4, 5} {
		if got[i].Timestamp != want {
			t.Errorf("Latest(3)[%d].Timestamp = %d, want %d", i, got[i].Timestamp, want)
		}
	}
}

func TestMemStore_OverwritesOldest(t *testing.T) {
	s := NewMemStore(3)
	ctx := context.Background()

	for ts := uint32(1); ts <= 5; ts++ {
		_ = s.Add(ctx, record(ts))
	}

	got := s.Latest(10)
	if len(got) != 3 {
		t.Fatalf("Latest(10) returned %d records, want 3", len(got))
	}
	for i, want := range []uint32{3, 4, 5} {
		if got[i].Timestamp != want {
			t.Errorf("Latest(10)[%d].Timestamp = %d, want %d", i, got[i].Timestamp, want)
		}
	}
}

func TestMemStore_Empty(t *testing.T) {
	s := NewMemStore(5)

	if got := s.Latest(3); len(got) != 0 {
		t.Errorf("Latest on empty store returned %d records, want 0", len(got))
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.TotalRecords != 0 || stats.RecentCount != 0 {
		t.Errorf("Stats = %+v, want zero values", stats)
	}
}

func TestMemStore_StatsCountsLifetimeTotal(t *testing.T) {
	s := NewMemStore(2)
	ctx := context.Background()

	for ts := uint32(1); ts <= 7; ts++ {
		_ = s.Add(ctx, record(ts))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.TotalRecords != 7 {
		t.Errorf("TotalRecords = %d, want 7", stats.TotalRecords)
	}
	if stats.RecentCount != 2 {
		t.Errorf("RecentCount = %d, want 2", stats.RecentCount)
	}
}

func TestMemStore_ZeroCapacityClampedToOne(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()
	_ = s.Add(ctx, record(1))
	_ = s.Add(ctx, record(2))

	got := s.Latest(5)
	if len(got) != 1 {
		t.Fatalf("Latest returned %d records, want 1", len(got))
	}
	if got[0].Timestamp != 2 {
		t.Errorf("Latest[0].Timestamp = %d, want 2", got[0].Timestamp)
	}
}
