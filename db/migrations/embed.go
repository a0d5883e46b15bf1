// Package dbmigrations exposes embedded SQL migrations for pricebridge binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into pricebridge binaries.
//
//go:embed *.sql
var Files embed.FS
