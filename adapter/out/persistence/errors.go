// Package persistence implements the repository ports over PostgreSQL via
// sqlx. Token encryption happens at this boundary: domain objects carry
// plaintext in memory, rows never do.
package persistence

import "errors"

var (
	ErrNotFound     = errors.New("persistence: record not found")
	ErrDuplicate    = errors.New("persistence: duplicate record")
	ErrInvalidInput = errors.New("persistence: invalid input")
)
