// Package migrations holds the numbered schema files applied by
// "clinic-server migrate up".
package migrations

import "embed"

// Files is the embedded migration set.
//
//go:embed *.sql
var Files embed.FS
