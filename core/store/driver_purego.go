//go:build purego

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go SQLite driver for cgo-free builds.
const driverName = "sqlite"
