package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jakobkummerow/weinkeller-sub000/internal/server"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cellar_vineyards (
        server_id BIGINT PRIMARY KEY,
        record    JSONB NOT NULL,
        stamp     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS cellar_wines (
        server_id BIGINT PRIMARY KEY,
        record    JSONB NOT NULL,
        stamp     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS cellar_years (
        server_id BIGINT PRIMARY KEY,
        record    JSONB NOT NULL,
        stamp     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS cellar_log (
        server_id BIGINT PRIMARY KEY,
        record    JSONB NOT NULL,
        stamp     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS cellar_meta (
        key   TEXT PRIMARY KEY,
        value TEXT NOT NULL
);
`

const (
	metaUUID   = "uuid"
	metaCommit = "commit"
)

// Store is the write-through persistence layer behind the in-memory
// database. Every accepted push lands here before the response is sent;
// on boot the full archive is loaded back.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New constructs a Store using the provided Postgres pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the cellar tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, schemaSQL)
		return err
	})
}

// SaveChanges persists the records an accepted push mutated, together with
// the commit counter and server identity. The whole change set is wrapped
// in one transaction so a crash can never leave a half-applied push; the
// commit counter only moves once every record it stamped is durable.
func (s *Store) SaveChanges(ctx context.Context, changes *server.ChangeSet) error {
	if changes == nil || changes.IsEmpty() {
		return nil
	}

	start := time.Now()
	err := s.retry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, v := range changes.Vineyards {
			if err := upsertRecord(ctx, tx, "cellar_vineyards", int64(v.Record.ServerID), v.Record, v.Stamp); err != nil {
				return err
			}
		}
		for _, w := range changes.Wines {
			if err := upsertRecord(ctx, tx, "cellar_wines", int64(w.Record.ServerID), w.Record, w.Stamp); err != nil {
				return err
			}
		}
		for _, y := range changes.Years {
			if err := upsertRecord(ctx, tx, "cellar_years", int64(y.Record.ServerID), y.Record, y.Stamp); err != nil {
				return err
			}
		}
		for _, l := range changes.Log {
			if err := upsertRecord(ctx, tx, "cellar_log", int64(l.Record.ServerID), l.Record, l.Stamp); err != nil {
				return err
			}
		}

		if err := upsertMeta(ctx, tx, metaCommit, fmt.Sprintf("%d", changes.Commit)); err != nil {
			return err
		}
		if err := upsertMeta(ctx, tx, metaUUID, changes.UUID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return err
	}

	writeLatency.Observe(time.Since(start).Seconds())
	writtenRecords.Add(float64(len(changes.Vineyards) + len(changes.Wines) + len(changes.Years) + len(changes.Log)))
	return nil
}

func upsertRecord(ctx context.Context, tx pgx.Tx, table string, serverID int64, record any, stamp int64) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", table, err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
                INSERT INTO %s (server_id, record, stamp)
                VALUES ($1, $2, $3)
                ON CONFLICT (server_id)
                DO UPDATE SET record = EXCLUDED.record, stamp = EXCLUDED.stamp`, table),
		serverID, payload, stamp)
	return err
}

func upsertMeta(ctx context.Context, tx pgx.Tx, key, value string) error {
	_, err := tx.Exec(ctx, `
                INSERT INTO cellar_meta (key, value)
                VALUES ($1, $2)
                ON CONFLICT (key)
                DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// LoadArchive reads the full persisted database back for startup restore.
// A fresh database yields an archive with an empty UUID; the caller mints
// a new identity in that case.
func (s *Store) LoadArchive(ctx context.Context) (*server.Archive, error) {
	archive := &server.Archive{}

	if err := loadTable(ctx, s.pool, "cellar_vineyards", func(payload []byte, stamp int64) error {
		var rec server.StampedVineyard
		if err := json.Unmarshal(payload, &rec.Record); err != nil {
			return err
		}
		rec.Stamp = stamp
		archive.Vineyards = append(archive.Vineyards, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadTable(ctx, s.pool, "cellar_wines", func(payload []byte, stamp int64) error {
		var rec server.StampedWine
		if err := json.Unmarshal(payload, &rec.Record); err != nil {
			return err
		}
		rec.Stamp = stamp
		archive.Wines = append(archive.Wines, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadTable(ctx, s.pool, "cellar_years", func(payload []byte, stamp int64) error {
		var rec server.StampedYear
		if err := json.Unmarshal(payload, &rec.Record); err != nil {
			return err
		}
		rec.Stamp = stamp
		archive.Years = append(archive.Years, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadTable(ctx, s.pool, "cellar_log", func(payload []byte, stamp int64) error {
		var rec server.StampedLog
		if err := json.Unmarshal(payload, &rec.Record); err != nil {
			return err
		}
		rec.Stamp = stamp
		archive.Log = append(archive.Log, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	uuid, err := s.loadMeta(ctx, metaUUID)
	if err != nil {
		return nil, err
	}
	archive.UUID = uuid

	return archive, nil
}

func loadTable(ctx context.Context, pool *pgxpool.Pool, table string, add func(payload []byte, stamp int64) error) error {
	rows, err := pool.Query(ctx, fmt.Sprintf(
		`SELECT record, stamp FROM %s ORDER BY server_id`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			payload []byte
			stamp   int64
		)
		if err := rows.Scan(&payload, &stamp); err != nil {
			return err
		}
		if err := add(payload, stamp); err != nil {
			return fmt.Errorf("decode %s row: %w", table, err)
		}
	}
	return rows.Err()
}

func (s *Store) loadMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cellar_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == s.maxRetries {
				return err
			}
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
