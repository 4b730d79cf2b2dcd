//go:build !sqlite_cgo

package store

// modernc.org/sqlite is a pure-Go SQLite driver (no CGO), the teacher's
// direct dependency. It is the default build; pass -tags sqlite_cgo to
// link github.com/mattn/go-sqlite3 instead (see driver_cgo.go), which the
// teacher also carries, indirectly, for its own tasks/events/memory
// packages.
import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
