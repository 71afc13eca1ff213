// Package migrations embeds the SQL migration files consumed by
// store.Migrate via golang-migrate's iofs source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
