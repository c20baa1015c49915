//go:build cgo_sqlite

package store

// CGO SQLite via mattn/go-sqlite3.
//
//   CGO_ENABLED=1 go build -tags cgo_sqlite ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// SQLiteDriverName is the database/sql driver registered by this build.
	SQLiteDriverName = "sqlite3"

	// SQLiteBuildMode describes the current build configuration.
	SQLiteBuildMode = "cgo"
)
