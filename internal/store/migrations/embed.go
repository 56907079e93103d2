// Package migrations holds the session cache schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
