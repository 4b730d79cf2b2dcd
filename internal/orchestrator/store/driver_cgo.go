//go:build sqlite_cgo

package store

// Built only with -tags sqlite_cgo. mattn/go-sqlite3 is a CGO-based
// driver; the teacher carries it as an indirect dependency of its own
// tasks/events/memory packages. Wired here as an alternate build rather
// than dropped, since the teacher itself never chose between the two —
// both shipped simultaneously.
import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
