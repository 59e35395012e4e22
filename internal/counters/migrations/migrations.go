// Package migrations embeds the counters schema files.
package migrations

import "embed"

// Files holds the SQL migration files.
//
//go:embed *.sql
var Files embed.FS
