// ABOUTME: cgo-only pieces of the SQL store: registers mattn/go-sqlite3 as the "sqlite3" driver
// ABOUTME: and recognizes its constraint errors

//go:build cgo

package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

func isSQLite3Constraint(err error) bool {
	var liteErr sqlite3.Error
	return errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint
}
