// Package migrations embeds the SQL schema applied by platform/db.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
