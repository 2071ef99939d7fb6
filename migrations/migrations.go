// Package migrations contains the embedded SQL migrations for the
// ballotbox database.
package migrations

import (
	"embed"
)

//go:embed *.sql
var FS embed.FS
