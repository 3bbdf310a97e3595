package migrations

import "embed"

// PostgresFS embeds all PostgreSQL migration files (golang-migrate naming).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds all ClickHouse migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
