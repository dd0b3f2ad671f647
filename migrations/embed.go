// Package migrations embeds the permit_events SQL schema for use at
// runtime, so integration tests and local fixtures work regardless of
// working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
//
//go:embed *.sql
var FS embed.FS
