// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

//go:embed forms/*.sql
var FormsFS embed.FS
