// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCursorRepository_GetSetDelete(t *testing.T) {
	r := NewMemoryCursorRepository()
	ctx := context.Background()

	got, err := r.GetCursor(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	require.NoError(t, r.SetCursor(ctx, "sub-1", 5))
	got, err = r.GetCursor(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got)

	require.NoError(t, r.DeleteCursor(ctx, "sub-1"))
	got, err = r.GetCursor(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestMemoryCursorRepository_SetCursorIsMonotonic(t *testing.T) {
	r := NewMemoryCursorRepository()
	ctx := context.Background()

	require.NoError(t, r.SetCursor(ctx, "sub-1", 10))
	require.NoError(t, r.SetCursor(ctx, "sub-1", 3)) // stale ack, must not regress

	got, err := r.GetCursor(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)
}

func TestPostgresCursorRepository_GetCursorOtherErrorSurfaces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT last_acked_global_id FROM cursors WHERE subscriber_name = \$1`).
		WithArgs("sub-1").
		WillReturnError(errors.New("no rows in result set"))

	r := NewPostgresCursorRepository(mock)
	_, err = r.GetCursor(context.Background(), "sub-1")
	require.Error(t, err) // not pgx.ErrNoRows itself, so it should surface as an internal error
}

func TestPostgresCursorRepository_SetCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO cursors`).
		WithArgs("sub-1", uint64(42)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := NewPostgresCursorRepository(mock)
	require.NoError(t, r.SetCursor(context.Background(), "sub-1", 42))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCursorRepository_DeleteCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM cursors WHERE subscriber_name = \$1`).
		WithArgs("sub-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	r := NewPostgresCursorRepository(mock)
	require.NoError(t, r.DeleteCursor(context.Background(), "sub-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
