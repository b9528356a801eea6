// Package migrations embeds the SQL schema files run by cmd/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
