// Package migrations embeds the relay's SQL schema so the daemon can apply
// it without the files on disk.
package migrations

import "embed"

// FS holds every *.sql file of this directory at its root.
//
//go:embed *.sql
var FS embed.FS
