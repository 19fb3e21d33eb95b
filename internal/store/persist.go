package store

import (
	"time"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// Metadata keys used with Persister.PutMeta.
const (
	MetaNextVineyardID    = "next_vineyard_id"
	MetaNextWineID        = "next_wine_id"
	MetaNextYearID        = "next_year_id"
	MetaNextLogID         = "next_log_id"
	MetaLastServerCommit  = "last_server_commit"
	MetaLastServerContact = "last_server_contact"
	MetaServerUUID        = "server_uuid"
)

// VineyardRow is the persisted form of a vineyard record. The embedded wire
// struct's LocalID field is unused here; the row is keyed externally.
type VineyardRow struct {
	Data  types.Vineyard
	Dirty types.DirtyState
}

// WineRow additionally carries the parent's local id, since the wire struct
// only ever holds server-side parent ids.
type WineRow struct {
	Data     types.Wine
	Dirty    types.DirtyState
	Vineyard types.LocalID
}

// YearRow is the persisted form of a vintage record.
type YearRow struct {
	Data  types.Year
	Dirty types.DirtyState
	Wine  types.LocalID
}

// LogRow is the persisted form of an inventory log entry.
type LogRow struct {
	Data  types.Log
	Dirty types.DirtyState
	Year  types.LocalID
}

// Persister is the durable record store backing the in-memory state. Writes
// are fire-and-forget: the in-memory state is authoritative for the session,
// persistence failures are logged and not retried.
type Persister interface {
	PutVineyard(id types.LocalID, row VineyardRow) error
	PutWine(id types.LocalID, row WineRow) error
	PutYear(id types.LocalID, row YearRow) error
	PutLog(id types.LocalID, row LogRow) error
	PutMeta(key, value string) error
	Clear() error
}

// Snapshot is everything a Persister hands back on startup.
type Snapshot struct {
	Vineyards map[types.LocalID]VineyardRow
	Wines     map[types.LocalID]WineRow
	Years     map[types.LocalID]YearRow
	Log       map[types.LocalID]LogRow

	NextVineyardID types.LocalID
	NextWineID     types.LocalID
	NextYearID     types.LocalID
	NextLogID      types.LocalID

	LastServerCommit  int64
	LastServerContact time.Time
	ServerUUID        string
}
