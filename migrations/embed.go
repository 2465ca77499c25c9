// Package migrations embeds the SQL migrations of the attribution ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
