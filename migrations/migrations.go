// Package migrations embeds the goose SQL migrations so binaries can apply
// them without the source tree.
package migrations

import "embed"

// Dir is the directory inside FS that holds the migration files.
const Dir = "sql"

//go:embed sql/*.sql
var FS embed.FS
