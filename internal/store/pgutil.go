// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
