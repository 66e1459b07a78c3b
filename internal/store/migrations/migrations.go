package migrations

import "embed"

// FS holds the numbered golang-migrate SQL files.
//
//go:embed *.sql
var FS embed.FS
