// Package migrations embeds the schema for the sql storage backend and the
// API key tables, one directory per driver.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
