package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

// schema creates the telemetry table on first connect. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS telemetry_records (
	id BIGSERIAL PRIMARY KEY,
	frame_ts BIGINT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	volume INT NOT NULL,
	peak_to_peak INT NOT NULL,
	snr DOUBLE PRECISION NOT NULL,
	filtered_snr DOUBLE PRECISION NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_received_at ON telemetry_records (received_at);
`

// PostgresStore persists every record to PostgreSQL in batched inserts while
// serving Latest from an in-memory ring, so reads never touch the database
// on the hot path. Writes buffer up to the configured batch size and flush
// either when the buffer fills or on the periodic flush interval.
type PostgresStore struct {
	pool *pgxpool.Pool
	ring *MemStore

	mu  sync.Mutex
	buf []Record

	bufSize  int
	interval time.Duration

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPostgresStore connects to the database at dsn, ensures the schema
// exists, and starts the background flusher. ringCapacity bounds the
// in-memory recent-records ring; bufSize and flushInterval control batching.
func NewPostgresStore(ctx context.Context, dsn string, ringCapacity, bufSize int, flushInterval time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	if bufSize <= 0 {
		bufSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	s := &PostgresStore{
		pool:     pool,
		ring:     NewMemStore(ringCapacity),
		buf:      make([]Record, 0, bufSize),
		bufSize:  bufSize,
		interval: flushInterval,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flusher()
	return s, nil
}

// Add implements [Store.Add]. The record lands in the ring immediately; the
// database write happens asynchronously in the next batch.
func (s *PostgresStore) Add(ctx context.Context, rec Record) error {
	_ = s.ring.Add(ctx, rec)

	s.mu.Lock()
	s.buf = append(s.buf, rec)
	full := len(s.buf) >= s.bufSize
	s.mu.Unlock()

	if full {
		// Nudge the flusher without blocking the frame loop.
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Latest implements [Store.Latest], served from the in-memory ring.
func (s *PostgresStore) Latest(n int) []Record {
	return s.ring.Latest(n)
}

// Stats implements [Store.Stats]. TotalRecords counts persisted rows, so
// records still sitting in the write buffer are not included.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ringStats, _ := s.ring.Stats(ctx)

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM telemetry_records").Scan(&total); err != nil {
		return Stats{}, fmt.Errorf("history: count records: %w", err)
	}
	return Stats{TotalRecords: total, RecentCount: ringStats.RecentCount}, nil
}

// Ping implements [Store.Ping].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store.Close]. It stops the flusher, writes any buffered
// records, and closes the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()

	err := s.flush(ctx)
	s.pool.Close()
	return err
}

// flusher periodically drains the write buffer until Close.
func (s *PostgresStore) flusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.flushCh:
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.flush(ctx); err != nil {
			slog.Warn("history: batch flush failed", "err", err)
		}
		cancel()
	}
}

// flush writes the current buffer contents with a single COPY.
func (s *PostgresStore) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buf
	s.buf = make([]Record, 0, s.bufSize)
	s.mu.Unlock()

	rows := make([][]any, 0, len(batch))
	for _, rec := range batch {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("history: marshal record: %w", err)
		}
		rows = append(rows, []any{
			int64(rec.Timestamp),
			rec.ReceivedAt,
			rec.Volume,
			rec.PeakToPeak,
			rec.SNR,
			rec.FilteredSNR,
			payload,
		})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"telemetry_records"},
		[]string{"frame_ts", "received_at", "volume", "peak_to_peak", "snr", "filtered_snr", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("history: copy batch of %d: %w", len(batch), err)
	}

	slog.Debug("history: flushed batch", "records", len(batch))
	return nil
}
