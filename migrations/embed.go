// Package migrations embeds the schema and seed SQL applied by
// internal/migrate.
package migrations

import "embed"

const (
	SchemaDir = "schema"
	SeedsDir  = "seeds"
)

//go:embed schema/*.sql seeds/*.sql
var FS embed.FS
