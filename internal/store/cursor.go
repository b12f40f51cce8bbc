// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/wasmstream/core/internal/core"
)

// MemoryCursorRepository is an in-process CursorRepository for tests.
type MemoryCursorRepository struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

// NewMemoryCursorRepository creates an empty cursor repository.
func NewMemoryCursorRepository() *MemoryCursorRepository {
	return &MemoryCursorRepository{cursors: make(map[string]uint64)}
}

// GetCursor implements CursorRepository.
func (r *MemoryCursorRepository) GetCursor(_ context.Context, name string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[name], nil
}

// SetCursor implements CursorRepository.
func (r *MemoryCursorRepository) SetCursor(_ context.Context, name string, globalID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if globalID < r.cursors[name] {
		return nil // monotonicity: no-op on a stale ack
	}
	r.cursors[name] = globalID
	return nil
}

// DeleteCursor implements CursorRepository.
func (r *MemoryCursorRepository) DeleteCursor(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, name)
	return nil
}

// PostgresCursorRepository implements CursorRepository using PostgreSQL.
type PostgresCursorRepository struct {
	pool poolIface
}

// NewPostgresCursorRepository creates a PostgreSQL-backed cursor repository.
func NewPostgresCursorRepository(pool poolIface) *PostgresCursorRepository {
	return &PostgresCursorRepository{pool: pool}
}

// GetCursor implements CursorRepository.
func (r *PostgresCursorRepository) GetCursor(ctx context.Context, name string) (uint64, error) {
	var id uint64
	err := r.pool.QueryRow(ctx,
		`SELECT last_acked_global_id FROM cursors WHERE subscriber_name = $1`, name).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, oops.Code(core.CodeInternal).With("operation", "get cursor").With("name", name).Wrap(err)
	}
	return id, nil
}

// SetCursor implements CursorRepository.
func (r *PostgresCursorRepository) SetCursor(ctx context.Context, name string, globalID uint64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cursors (subscriber_name, last_acked_global_id)
		 VALUES ($1, $2)
		 ON CONFLICT (subscriber_name) DO UPDATE
		   SET last_acked_global_id = GREATEST(cursors.last_acked_global_id, $2)`,
		name, globalID)
	if err != nil {
		return oops.Code(core.CodeInternal).With("operation", "set cursor").With("name", name).Wrap(err)
	}
	return nil
}

// DeleteCursor implements CursorRepository.
func (r *PostgresCursorRepository) DeleteCursor(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cursors WHERE subscriber_name = $1`, name)
	if err != nil {
		return oops.Code(core.CodeInternal).With("operation", "delete cursor").With("name", name).Wrap(err)
	}
	return nil
}
