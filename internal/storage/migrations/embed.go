// Package migrations ships the schema for both backing stores as
// embedded SQL and applies it at startup. Files run in lexical order
// and must be idempotent.
package migrations

import "embed"

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
