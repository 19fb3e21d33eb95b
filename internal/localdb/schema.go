package localdb

// SchemaVersion is bumped whenever the table layout changes.
const SchemaVersion = 1

// VineyardsTableSQL stores producer records keyed by their local id. The
// server id is 0 until the first upload receipt arrives.
const VineyardsTableSQL = `
CREATE TABLE IF NOT EXISTS vineyards (
    local_id INTEGER PRIMARY KEY,
    server_id INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    country TEXT NOT NULL DEFAULT '',
    region TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0,
    dirty INTEGER NOT NULL DEFAULT 0
);
`

// WinesTableSQL stores wine records. vineyard_local references the parent by
// local id; the wire-side parent server id is reconstructed on load.
const WinesTableSQL = `
CREATE TABLE IF NOT EXISTS wines (
    local_id INTEGER PRIMARY KEY,
    server_id INTEGER NOT NULL DEFAULT 0,
    vineyard_local INTEGER NOT NULL,
    name TEXT NOT NULL,
    grape TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0,
    dirty INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(vineyard_local) REFERENCES vineyards(local_id)
);
`

// YearsTableSQL stores vintage records. A count of -1 marks a soft-deleted
// vintage that is retained for id stability.
const YearsTableSQL = `
CREATE TABLE IF NOT EXISTS years (
    local_id INTEGER PRIMARY KEY,
    server_id INTEGER NOT NULL DEFAULT 0,
    wine_local INTEGER NOT NULL,
    year INTEGER NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    stock INTEGER NOT NULL DEFAULT 0,
    price REAL NOT NULL DEFAULT 0,
    rating INTEGER NOT NULL DEFAULT 0,
    value INTEGER NOT NULL DEFAULT 0,
    sweetness INTEGER NOT NULL DEFAULT 0,
    age INTEGER NOT NULL DEFAULT 0,
    location TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    dirty INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(wine_local) REFERENCES wines(local_id)
);
`

// LogTableSQL stores inventory movements, at most one per vintage, day and
// reason.
const LogTableSQL = `
CREATE TABLE IF NOT EXISTS log (
    local_id INTEGER PRIMARY KEY,
    server_id INTEGER NOT NULL DEFAULT 0,
    year_local INTEGER NOT NULL,
    date TEXT NOT NULL,
    delta INTEGER NOT NULL DEFAULT 0,
    reason INTEGER NOT NULL DEFAULT 0,
    comment TEXT NOT NULL DEFAULT '',
    dirty INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(year_local) REFERENCES years(local_id)
);
`

// MetaTableSQL stores sync bookkeeping as key/value strings: id counters,
// commit cursor, server identity.
const MetaTableSQL = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SchemaVersionTableSQL tracks applied schema versions.
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// AllTableSchemas returns the table creation statements in dependency order.
func AllTableSchemas() []string {
	return []string{
		VineyardsTableSQL,
		WinesTableSQL,
		YearsTableSQL,
		LogTableSQL,
		MetaTableSQL,
		SchemaVersionTableSQL,
	}
}

// AllIndexes returns the index creation statements.
func AllIndexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_wines_vineyard ON wines(vineyard_local);`,
		`CREATE INDEX IF NOT EXISTS idx_years_wine ON years(wine_local);`,
		`CREATE INDEX IF NOT EXISTS idx_log_year ON log(year_local);`,
		`CREATE INDEX IF NOT EXISTS idx_log_date ON log(date);`,
	}
}

// PragmaStatements returns the pragmas applied on every open.
func PragmaStatements() []string {
	return []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA synchronous = NORMAL;`,
	}
}
