// Package migrations embeds the SQL migrations applied by "surgiform migrate".
package migrations

import "embed"

// FS holds the NNN_name.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
