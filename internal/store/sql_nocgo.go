// ABOUTME: Fallback for builds without cgo, where the "sqlite3" driver is not registered
// ABOUTME: Use the pure-Go "sqlite" driver instead

//go:build !cgo

package store

func isSQLite3Constraint(error) bool {
	return false
}
