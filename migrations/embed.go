// Package migrations embeds the schema migrations applied by golang-migrate.
package migrations

import "embed"

// Files holds NNN_name.up.sql / NNN_name.down.sql pairs.
//
//go:embed *.sql
var Files embed.FS
