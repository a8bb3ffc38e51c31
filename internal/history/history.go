// Package history keeps the most recent telemetry records for dashboard
// bootstrap and the REST endpoints, with an optional PostgreSQL sink that
// persists every record in batched writes.
package history

import (
	"context"
	"time"

	"github.com/apetrei/audioscope/pkg/telemetry"
)

// Record is one processed telemetry update together with gateway-side
// receive metadata.
type Record struct {
	telemetry.Update

	// ReceivedAt is when the gateway finished processing the frame.
	ReceivedAt time.Time `json:"receivedAt"`
}

// Stats summarises a store's contents.
type Stats struct {
	// TotalRecords is the lifetime number of records the store has seen
	// (persisted rows for the postgres backend).
	TotalRecords int64 `json:"total_records"`

	// RecentCount is the number of records currently held in the
	// in-memory ring.
	RecentCount int `json:"recent_count"`
}

// Store keeps telemetry records. Implementations must be safe for
// concurrent use: the gateway adds records from the producer session while
// HTTP handlers and new consumers read them.
type Store interface {
	// Add appends one record. It must not block on slow persistence — the
	// producer frame loop calls it inline.
	Add(ctx context.Context, rec Record) error

	// Latest returns up to n most recent records, oldest first.
	Latest(n int) []Record

	// Stats reports store contents.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies the store's backing service is reachable.
	Ping(ctx context.Context) error

	// Close flushes pending writes and releases resources.
	Close(ctx context.Context) error
}
