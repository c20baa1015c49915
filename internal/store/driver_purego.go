//go:build !cgo_sqlite

package store

// Pure Go SQLite, no C toolchain required. This is the default build.
//
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// SQLiteDriverName is the database/sql driver registered by this build.
	SQLiteDriverName = "sqlite"

	// SQLiteBuildMode describes the current build configuration.
	SQLiteBuildMode = "purego"
)
