// Package localdb persists the client-side cellar state in a SQLite file.
// It implements store.Persister with upserts keyed by local id and restores
// a full store.Snapshot on startup.
package localdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// DB wraps the SQLite handle backing one client replica.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d := &DB{db: db, path: path}
	if err := d.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return d, nil
}

// Path returns the database file location.
func (d *DB) Path() string { return d.path }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) initializeSchema() error {
	for _, pragma := range PragmaStatements() {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	for _, schema := range AllTableSchemas() {
		if _, err := d.db.Exec(schema); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	for _, index := range AllIndexes() {
		if _, err := d.db.Exec(index); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return d.recordSchemaVersion()
}

func (d *DB) recordSchemaVersion() error {
	var count int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE version = ?`, SchemaVersion).Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := d.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().Unix())
	return err
}

// PutVineyard upserts one producer row.
func (d *DB) PutVineyard(id types.LocalID, row store.VineyardRow) error {
	_, err := d.db.Exec(`
INSERT INTO vineyards (local_id, server_id, name, country, region, website, address, comment, deleted, dirty)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
    server_id = excluded.server_id,
    name = excluded.name,
    country = excluded.country,
    region = excluded.region,
    website = excluded.website,
    address = excluded.address,
    comment = excluded.comment,
    deleted = excluded.deleted,
    dirty = excluded.dirty`,
		id, row.Data.ServerID, row.Data.Name, row.Data.Country, row.Data.Region,
		row.Data.Website, row.Data.Address, row.Data.Comment, boolToInt(row.Data.Deleted), row.Dirty)
	return err
}

// PutWine upserts one wine row.
func (d *DB) PutWine(id types.LocalID, row store.WineRow) error {
	_, err := d.db.Exec(`
INSERT INTO wines (local_id, server_id, vineyard_local, name, grape, comment, deleted, dirty)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
    server_id = excluded.server_id,
    vineyard_local = excluded.vineyard_local,
    name = excluded.name,
    grape = excluded.grape,
    comment = excluded.comment,
    deleted = excluded.deleted,
    dirty = excluded.dirty`,
		id, row.Data.ServerID, row.Vineyard, row.Data.Name, row.Data.Grape,
		row.Data.Comment, boolToInt(row.Data.Deleted), row.Dirty)
	return err
}

// PutYear upserts one vintage row.
func (d *DB) PutYear(id types.LocalID, row store.YearRow) error {
	_, err := d.db.Exec(`
INSERT INTO years (local_id, server_id, wine_local, year, count, stock, price, rating, value, sweetness, age, location, comment, dirty)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
    server_id = excluded.server_id,
    wine_local = excluded.wine_local,
    year = excluded.year,
    count = excluded.count,
    stock = excluded.stock,
    price = excluded.price,
    rating = excluded.rating,
    value = excluded.value,
    sweetness = excluded.sweetness,
    age = excluded.age,
    location = excluded.location,
    comment = excluded.comment,
    dirty = excluded.dirty`,
		id, row.Data.ServerID, row.Wine, row.Data.Year, row.Data.Count, row.Data.Stock,
		row.Data.Price, row.Data.Rating, row.Data.Value, row.Data.Sweetness, row.Data.Age,
		row.Data.Location, row.Data.Comment, row.Dirty)
	return err
}

// PutLog upserts one inventory movement row.
func (d *DB) PutLog(id types.LocalID, row store.LogRow) error {
	_, err := d.db.Exec(`
INSERT INTO log (local_id, server_id, year_local, date, delta, reason, comment, dirty)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
    server_id = excluded.server_id,
    year_local = excluded.year_local,
    date = excluded.date,
    delta = excluded.delta,
    reason = excluded.reason,
    comment = excluded.comment,
    dirty = excluded.dirty`,
		id, row.Data.ServerID, row.Year, row.Data.Date, row.Data.Delta,
		row.Data.Reason, row.Data.Comment, row.Dirty)
	return err
}

// PutMeta upserts one bookkeeping key.
func (d *DB) PutMeta(key, value string) error {
	_, err := d.db.Exec(`
INSERT INTO meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Clear wipes all records and bookkeeping, used when switching to a
// different server database.
func (d *DB) Clear() error {
	for _, table := range []string{"log", "years", "wines", "vineyards", "meta"} {
		if _, err := d.db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Load reads the whole database back into a snapshot.
func (d *DB) Load() (*store.Snapshot, error) {
	snap := &store.Snapshot{
		Vineyards: make(map[types.LocalID]store.VineyardRow),
		Wines:     make(map[types.LocalID]store.WineRow),
		Years:     make(map[types.LocalID]store.YearRow),
		Log:       make(map[types.LocalID]store.LogRow),

		NextVineyardID: 1,
		NextWineID:     1,
		NextYearID:     1,
		NextLogID:      1,
	}

	if err := d.loadVineyards(snap); err != nil {
		return nil, err
	}
	if err := d.loadWines(snap); err != nil {
		return nil, err
	}
	if err := d.loadYears(snap); err != nil {
		return nil, err
	}
	if err := d.loadLog(snap); err != nil {
		return nil, err
	}
	if err := d.loadMeta(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (d *DB) loadVineyards(snap *store.Snapshot) error {
	rows, err := d.db.Query(`SELECT local_id, server_id, name, country, region, website, address, comment, deleted, dirty FROM vineyards`)
	if err != nil {
		return fmt.Errorf("load vineyards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.LocalID
		var row store.VineyardRow
		var deleted int
		if err := rows.Scan(&id, &row.Data.ServerID, &row.Data.Name, &row.Data.Country,
			&row.Data.Region, &row.Data.Website, &row.Data.Address, &row.Data.Comment,
			&deleted, &row.Dirty); err != nil {
			return fmt.Errorf("scan vineyard: %w", err)
		}
		row.Data.Deleted = deleted != 0
		snap.Vineyards[id] = row
	}
	return rows.Err()
}

func (d *DB) loadWines(snap *store.Snapshot) error {
	rows, err := d.db.Query(`SELECT local_id, server_id, vineyard_local, name, grape, comment, deleted, dirty FROM wines`)
	if err != nil {
		return fmt.Errorf("load wines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.LocalID
		var row store.WineRow
		var deleted int
		if err := rows.Scan(&id, &row.Data.ServerID, &row.Vineyard, &row.Data.Name,
			&row.Data.Grape, &row.Data.Comment, &deleted, &row.Dirty); err != nil {
			return fmt.Errorf("scan wine: %w", err)
		}
		row.Data.Deleted = deleted != 0
		if parent, ok := snap.Vineyards[row.Vineyard]; ok {
			row.Data.VineyardID = parent.Data.ServerID
		}
		snap.Wines[id] = row
	}
	return rows.Err()
}

func (d *DB) loadYears(snap *store.Snapshot) error {
	rows, err := d.db.Query(`SELECT local_id, server_id, wine_local, year, count, stock, price, rating, value, sweetness, age, location, comment, dirty FROM years`)
	if err != nil {
		return fmt.Errorf("load years: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.LocalID
		var row store.YearRow
		if err := rows.Scan(&id, &row.Data.ServerID, &row.Wine, &row.Data.Year,
			&row.Data.Count, &row.Data.Stock, &row.Data.Price, &row.Data.Rating,
			&row.Data.Value, &row.Data.Sweetness, &row.Data.Age, &row.Data.Location,
			&row.Data.Comment, &row.Dirty); err != nil {
			return fmt.Errorf("scan year: %w", err)
		}
		if parent, ok := snap.Wines[row.Wine]; ok {
			row.Data.WineID = parent.Data.ServerID
		}
		snap.Years[id] = row
	}
	return rows.Err()
}

func (d *DB) loadLog(snap *store.Snapshot) error {
	rows, err := d.db.Query(`SELECT local_id, server_id, year_local, date, delta, reason, comment, dirty FROM log`)
	if err != nil {
		return fmt.Errorf("load log: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.LocalID
		var row store.LogRow
		if err := rows.Scan(&id, &row.Data.ServerID, &row.Year, &row.Data.Date,
			&row.Data.Delta, &row.Data.Reason, &row.Data.Comment, &row.Dirty); err != nil {
			return fmt.Errorf("scan log: %w", err)
		}
		if parent, ok := snap.Years[row.Year]; ok {
			row.Data.YearID = parent.Data.ServerID
		}
		snap.Log[id] = row
	}
	return rows.Err()
}

func (d *DB) loadMeta(snap *store.Snapshot) error {
	rows, err := d.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		switch key {
		case store.MetaNextVineyardID:
			snap.NextVineyardID = parseLocalID(value, snap.NextVineyardID)
		case store.MetaNextWineID:
			snap.NextWineID = parseLocalID(value, snap.NextWineID)
		case store.MetaNextYearID:
			snap.NextYearID = parseLocalID(value, snap.NextYearID)
		case store.MetaNextLogID:
			snap.NextLogID = parseLocalID(value, snap.NextLogID)
		case store.MetaLastServerCommit:
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				snap.LastServerCommit = n
			}
		case store.MetaLastServerContact:
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				snap.LastServerContact = time.Unix(n, 0)
			}
		case store.MetaServerUUID:
			snap.ServerUUID = value
		}
	}
	return rows.Err()
}

func parseLocalID(value string, fallback types.LocalID) types.LocalID {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 1 {
		return fallback
	}
	return types.LocalID(n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
