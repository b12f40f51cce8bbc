// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/wasmstream/core/internal/core"
)

// poolIface abstracts pgxpool.Pool so unit tests can swap in pgxmock,
// mirroring store/alias.go's poolIface in the teacher.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements MessageStore on top of a Postgres connection
// pool. Every Append runs in a single transaction so the batch-atomicity
// and fsync-before-success guarantees of spec §4.1 come directly from
// Postgres's own WAL commit semantics.
type PostgresStore struct {
	pool   poolIface
	notify chan core.Event
	closed atomic.Bool
}

// NewPostgresStore opens a pool against dsn. notifyBuffer sizes the live
// notification channel (see MessageStore.Notifications).
func NewPostgresStore(ctx context.Context, dsn string, notifyBuffer int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "connect").Wrap(err)
	}
	return newPostgresStoreWithPool(pool, notifyBuffer), nil
}

func newPostgresStoreWithPool(pool poolIface, notifyBuffer int) *PostgresStore {
	if notifyBuffer <= 0 {
		notifyBuffer = 256
	}
	return &PostgresStore{
		pool:   pool,
		notify: make(chan core.Event, notifyBuffer),
	}
}

// Append implements MessageStore.
func (s *PostgresStore) Append(ctx context.Context, streamName string, expectedSequence uint64, proposed []core.ProposedEvent) ([]core.Event, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "begin append tx").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // rollback after commit is a documented no-op

	// Lock the stream's newest row (if any) so a concurrent Append on the
	// same stream blocks until this transaction commits or rolls back.
	// FOR UPDATE cannot be combined with COUNT(*), so the next expected
	// sequence comes from the locked row itself; a brand-new stream has
	// no row to lock, and a concurrent first-insert race is still caught
	// by the stream_sequence unique constraint below.
	var current uint64
	lockErr := tx.QueryRow(ctx,
		`SELECT stream_sequence FROM events WHERE stream_name = $1 ORDER BY stream_sequence DESC LIMIT 1 FOR UPDATE`,
		streamName).Scan(&current)
	switch {
	case isNoRows(lockErr):
		current = 0
	case lockErr != nil:
		return nil, oops.Code(core.CodeInternal).With("operation", "lock stream").Wrap(lockErr)
	default:
		current++
	}
	if current != expectedSequence {
		return nil, core.Conflict(streamName, current)
	}

	persisted := make([]core.Event, 0, len(proposed))
	for i, p := range proposed {
		id := p.ID
		if id == "" {
			id = core.NewEventID()
		}
		metaJSON, merr := json.Marshal(p.Metadata)
		if merr != nil {
			return nil, oops.Code(core.CodeInternal).With("operation", "marshal metadata").Wrap(merr)
		}
		ev := core.Event{
			StreamSequence: expectedSequence + uint64(i),
			StreamName:     streamName,
			EventType:      p.EventType,
			Data:           p.Data,
			Metadata:       p.Metadata,
			TimeMillis:     core.NowMillis(),
			ID:             id,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO events (stream_name, stream_sequence, event_type, data, metadata, event_id, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7::double precision / 1000.0))
			 RETURNING global_id`,
			ev.StreamName, ev.StreamSequence, ev.EventType, ev.Data, metaJSON, ev.ID, ev.TimeMillis,
		).Scan(&ev.GlobalID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return nil, core.Conflict(streamName, expectedSequence)
			}
			return nil, oops.Code(core.CodeInternal).With("operation", "insert event").Wrap(err)
		}
		persisted = append(persisted, ev)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "commit append tx").Wrap(err)
	}

	for _, ev := range persisted {
		select {
		case s.notify <- ev:
		default:
		}
	}

	return persisted, nil
}

// ReadStream implements MessageStore.
func (s *PostgresStore) ReadStream(ctx context.Context, streamName string, fromSequence uint64, limit int) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT global_id, stream_sequence, stream_name, event_type, data, metadata, event_id, occurred_at
		 FROM events WHERE stream_name = $1 AND stream_sequence >= $2
		 ORDER BY stream_sequence LIMIT $3`,
		streamName, fromSequence, limit)
	if err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "read stream").Wrap(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadCategory implements MessageStore.
func (s *PostgresStore) ReadCategory(ctx context.Context, category string, fromGlobalID uint64, limit int) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT global_id, stream_sequence, stream_name, event_type, data, metadata, event_id, occurred_at
		 FROM events WHERE stream_name LIKE $1 AND global_id >= $2
		 ORDER BY global_id LIMIT $3`,
		core.CategoryPrefix(category)+"%", fromGlobalID, limit)
	if err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "read category").Wrap(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadAll implements MessageStore.
func (s *PostgresStore) ReadAll(ctx context.Context, fromGlobalID uint64, limit int) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT global_id, stream_sequence, stream_name, event_type, data, metadata, event_id, occurred_at
		 FROM events WHERE global_id >= $1 ORDER BY global_id LIMIT $2`,
		fromGlobalID, limit)
	if err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "read all").Wrap(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// StreamLength implements MessageStore.
func (s *PostgresStore) StreamLength(ctx context.Context, streamName string) (uint64, error) {
	var n uint64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE stream_name = $1`, streamName).Scan(&n)
	if err != nil {
		return 0, oops.Code(core.CodeInternal).With("operation", "stream length").Wrap(err)
	}
	return n, nil
}

// Notifications implements MessageStore.
func (s *PostgresStore) Notifications() <-chan core.Event { return s.notify }

// Close implements MessageStore.
func (s *PostgresStore) Close(context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.notify)
	}
	if pool, ok := s.pool.(*pgxpool.Pool); ok {
		pool.Close()
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]core.Event, error) {
	var out []core.Event
	for rows.Next() {
		var e core.Event
		var metaJSON []byte
		var occurredAt time.Time
		if err := rows.Scan(&e.GlobalID, &e.StreamSequence, &e.StreamName, &e.EventType, &e.Data, &metaJSON, &e.ID, &occurredAt); err != nil {
			return nil, oops.Code(core.CodeInternal).With("operation", "scan event").Wrap(err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, oops.Code(core.CodeInternal).With("operation", "unmarshal metadata").Wrap(err)
			}
		}
		e.TimeMillis = occurredAt.UnixMilli()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(core.CodeInternal).With("operation", "iterate events").Wrap(err)
	}
	return out, nil
}
