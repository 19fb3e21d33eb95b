// Package server holds the authoritative cellar database and its HTTP API.
// Records live in arrays indexed by server id, with slot 0 reserved so that
// a server id of 0 can mean "not yet assigned" on the wire.
package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// StampedVineyard pairs a record with its change stamp for persistence and
// backup archives.
type StampedVineyard struct {
	Record types.Vineyard `json:"record"`
	Stamp  int64          `json:"stamp"`
}

type StampedWine struct {
	Record types.Wine `json:"record"`
	Stamp  int64      `json:"stamp"`
}

type StampedYear struct {
	Record types.Year `json:"record"`
	Stamp  int64      `json:"stamp"`
}

type StampedLog struct {
	Record types.Log `json:"record"`
	Stamp  int64     `json:"stamp"`
}

// Archive is the full database state, used for startup restore and object
// storage backups.
type Archive struct {
	Vineyards []StampedVineyard `json:"vineyards"`
	Wines     []StampedWine     `json:"wines"`
	Years     []StampedYear     `json:"years"`
	Log       []StampedLog      `json:"log"`
	UUID      string            `json:"uuid"`
}

// ChangeSet lists the records one accepted push mutated, for write-through
// persistence. Commit is the stamp all of them received.
type ChangeSet struct {
	Vineyards []StampedVineyard
	Wines     []StampedWine
	Years     []StampedYear
	Log       []StampedLog
	Commit    int64
	UUID      string
}

// IsEmpty reports whether the push mutated nothing.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Vineyards) == 0 && len(c.Wines) == 0 && len(c.Years) == 0 && len(c.Log) == 0
}

// Data is the authoritative record store. All methods are safe for
// concurrent use.
type Data struct {
	mu     sync.Mutex
	logger zerolog.Logger

	vineyards      []*types.Vineyard
	vineyardStamps []int64
	wines          []*types.Wine
	wineStamps     []int64
	years          []*types.Year
	yearStamps     []int64
	log            []*types.Log
	logStamps      []int64

	lastchange int64
	uuid       string

	// Server ids referenced by pushed children but absent here, typically
	// after a restore from an older backup. The next responses ask clients
	// to resend them.
	wantedVineyards map[types.ServerID]struct{}
	wantedWines     map[types.ServerID]struct{}
	wantedYears     map[types.ServerID]struct{}
}

// NewData creates an empty store with a fresh instance identity.
func NewData(logger zerolog.Logger) *Data {
	return &Data{
		logger:          logger.With().Str("component", "serverdata").Logger(),
		vineyards:       []*types.Vineyard{nil},
		vineyardStamps:  []int64{0},
		wines:           []*types.Wine{nil},
		wineStamps:      []int64{0},
		years:           []*types.Year{nil},
		yearStamps:      []int64{0},
		log:             []*types.Log{nil},
		logStamps:       []int64{0},
		uuid:            uuid.NewString(),
		wantedVineyards: make(map[types.ServerID]struct{}),
		wantedWines:     make(map[types.ServerID]struct{}),
		wantedYears:     make(map[types.ServerID]struct{}),
	}
}

// NewDataFromArchive restores a store from persisted state. The commit
// counter is recovered as the maximum stamp seen.
func NewDataFromArchive(logger zerolog.Logger, arch *Archive) *Data {
	d := NewData(logger)
	if arch == nil {
		return d
	}
	if arch.UUID != "" {
		d.uuid = arch.UUID
	}
	for _, sv := range arch.Vineyards {
		rec := sv.Record
		d.placeVineyard(&rec, sv.Stamp)
	}
	for _, sw := range arch.Wines {
		rec := sw.Record
		d.placeWine(&rec, sw.Stamp)
	}
	for _, sy := range arch.Years {
		rec := sy.Record
		d.placeYear(&rec, sy.Stamp)
	}
	for _, sl := range arch.Log {
		rec := sl.Record
		d.placeLog(&rec, sl.Stamp)
	}
	d.checkReferences()
	return d
}

// UUID returns the database instance identity.
func (d *Data) UUID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uuid
}

// Commit returns the current change counter.
func (d *Data) Commit() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastchange
}

// GetAll returns every record whose change stamp exceeds since, plus the
// current commit counter and the instance identity.
func (d *Data) GetAll(since int64) *types.SyncResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := &types.SyncResponse{Commit: d.lastchange, UUID: d.uuid}
	for i, v := range d.vineyards {
		if v != nil && d.vineyardStamps[i] > since {
			resp.Vineyards = append(resp.Vineyards, *v)
		}
	}
	for i, w := range d.wines {
		if w != nil && d.wineStamps[i] > since {
			resp.Wines = append(resp.Wines, *w)
		}
	}
	for i, y := range d.years {
		if y != nil && d.yearStamps[i] > since {
			resp.Years = append(resp.Years, *y)
		}
	}
	for i, l := range d.log {
		if l != nil && d.logStamps[i] > since {
			resp.Log = append(resp.Log, *l)
		}
	}
	resp.Resend = d.wantedLocked()
	return resp
}

// SetAll applies one pushed batch. The commit counter advances once; every
// mutated record gets the new counter as its stamp. Receipts echo the
// client's local ids together with the assigned server ids. The returned
// change set feeds write-through persistence.
func (d *Data) SetAll(batch *types.Batch) (*types.SyncResponse, *ChangeSet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastchange++
	changes := &ChangeSet{Commit: d.lastchange, UUID: d.uuid}
	receipts := &types.Receipts{}

	for _, v := range batch.Vineyards {
		id := d.setVineyard(v)
		receipts.Vineyards = append(receipts.Vineyards, types.Receipt{LocalID: v.LocalID, ServerID: id})
		changes.Vineyards = append(changes.Vineyards, StampedVineyard{Record: *d.vineyards[id], Stamp: d.lastchange})
	}
	for _, w := range batch.Wines {
		id := d.setWine(w)
		receipts.Wines = append(receipts.Wines, types.Receipt{LocalID: w.LocalID, ServerID: id})
		changes.Wines = append(changes.Wines, StampedWine{Record: *d.wines[id], Stamp: d.lastchange})
	}
	for _, y := range batch.Years {
		id := d.setYear(y)
		receipts.Years = append(receipts.Years, types.Receipt{LocalID: y.LocalID, ServerID: id})
		changes.Years = append(changes.Years, StampedYear{Record: *d.years[id], Stamp: d.lastchange})
	}
	for _, l := range batch.Log {
		id := d.setLog(l)
		receipts.Log = append(receipts.Log, types.Receipt{LocalID: l.LocalID, ServerID: id})
		changes.Log = append(changes.Log, StampedLog{Record: *d.log[id], Stamp: d.lastchange})
	}

	resp := &types.SyncResponse{Commit: d.lastchange, UUID: d.uuid}
	if !receipts.IsEmpty() {
		resp.Receipts = receipts
	}
	resp.Resend = d.wantedLocked()
	return resp, changes
}

// Export copies the whole store into an archive.
func (d *Data) Export() *Archive {
	d.mu.Lock()
	defer d.mu.Unlock()

	arch := &Archive{UUID: d.uuid}
	for i, v := range d.vineyards {
		if v != nil {
			arch.Vineyards = append(arch.Vineyards, StampedVineyard{Record: *v, Stamp: d.vineyardStamps[i]})
		}
	}
	for i, w := range d.wines {
		if w != nil {
			arch.Wines = append(arch.Wines, StampedWine{Record: *w, Stamp: d.wineStamps[i]})
		}
	}
	for i, y := range d.years {
		if y != nil {
			arch.Years = append(arch.Years, StampedYear{Record: *y, Stamp: d.yearStamps[i]})
		}
	}
	for i, l := range d.log {
		if l != nil {
			arch.Log = append(arch.Log, StampedLog{Record: *l, Stamp: d.logStamps[i]})
		}
	}
	return arch
}

func (d *Data) setVineyard(v types.Vineyard) types.ServerID {
	if v.ServerID != 0 {
		if existing := d.vineyardAt(v.ServerID); existing != nil {
			existing.Name = v.Name
			existing.Region = v.Region
			existing.Country = v.Country
			existing.Website = v.Website
			existing.Address = v.Address
			existing.Comment = v.Comment
			existing.Deleted = v.Deleted
			d.vineyardStamps[v.ServerID] = d.lastchange
			delete(d.wantedVineyards, v.ServerID)
			return v.ServerID
		}
		// A client remembers an id this store lost, typically after a
		// restore from an older backup. Re-insert under the old id.
		d.logger.Warn().Int64("server_id", int64(v.ServerID)).Msg("re-adopting vineyard under a lost id")
		rec := v
		rec.LocalID = 0
		d.placeVineyard(&rec, d.lastchange)
		delete(d.wantedVineyards, v.ServerID)
		return v.ServerID
	}
	if existing := d.findVineyard(v.Name); existing != nil {
		id := existing.ServerID
		existing.Region = v.Region
		existing.Country = v.Country
		existing.Website = v.Website
		existing.Address = v.Address
		existing.Comment = v.Comment
		existing.Deleted = v.Deleted
		d.vineyardStamps[id] = d.lastchange
		return id
	}
	rec := v
	rec.LocalID = 0
	rec.ServerID = types.ServerID(len(d.vineyards))
	d.vineyards = append(d.vineyards, &rec)
	d.vineyardStamps = append(d.vineyardStamps, d.lastchange)
	recordsTotal.WithLabelValues("vineyard").Inc()
	return rec.ServerID
}

func (d *Data) setWine(w types.Wine) types.ServerID {
	if w.VineyardID != 0 && d.vineyardAt(w.VineyardID) == nil {
		d.wantedVineyards[w.VineyardID] = struct{}{}
	}
	if w.ServerID != 0 {
		if existing := d.wineAt(w.ServerID); existing != nil {
			existing.Name = w.Name
			existing.Grape = w.Grape
			existing.Comment = w.Comment
			existing.Deleted = w.Deleted
			d.wineStamps[w.ServerID] = d.lastchange
			delete(d.wantedWines, w.ServerID)
			return w.ServerID
		}
		d.logger.Warn().Int64("server_id", int64(w.ServerID)).Msg("re-adopting wine under a lost id")
		rec := w
		rec.LocalID = 0
		d.placeWine(&rec, d.lastchange)
		delete(d.wantedWines, w.ServerID)
		return w.ServerID
	}
	if existing := d.findWine(w.Name, w.VineyardID); existing != nil {
		id := existing.ServerID
		existing.Grape = w.Grape
		existing.Comment = w.Comment
		existing.Deleted = w.Deleted
		d.wineStamps[id] = d.lastchange
		return id
	}
	rec := w
	rec.LocalID = 0
	rec.ServerID = types.ServerID(len(d.wines))
	d.wines = append(d.wines, &rec)
	d.wineStamps = append(d.wineStamps, d.lastchange)
	recordsTotal.WithLabelValues("wine").Inc()
	return rec.ServerID
}

func (d *Data) setYear(y types.Year) types.ServerID {
	if y.WineID != 0 && d.wineAt(y.WineID) == nil {
		d.wantedWines[y.WineID] = struct{}{}
	}
	if y.ServerID != 0 {
		if existing := d.yearAt(y.ServerID); existing != nil {
			existing.Count = y.Count
			existing.Stock = y.Stock
			existing.Price = y.Price
			existing.Rating = y.Rating
			existing.Value = y.Value
			existing.Sweetness = y.Sweetness
			existing.Age = y.Age
			existing.Comment = y.Comment
			existing.Location = y.Location
			d.yearStamps[y.ServerID] = d.lastchange
			delete(d.wantedYears, y.ServerID)
			return y.ServerID
		}
		d.logger.Warn().Int64("server_id", int64(y.ServerID)).Msg("re-adopting year under a lost id")
		rec := y
		rec.LocalID = 0
		d.placeYear(&rec, d.lastchange)
		delete(d.wantedYears, y.ServerID)
		return y.ServerID
	}
	if existing := d.findYear(y.Year, y.WineID); existing != nil {
		id := existing.ServerID
		existing.Count = y.Count
		existing.Stock = y.Stock
		existing.Price = y.Price
		existing.Rating = y.Rating
		existing.Value = y.Value
		existing.Sweetness = y.Sweetness
		existing.Age = y.Age
		existing.Comment = y.Comment
		existing.Location = y.Location
		d.yearStamps[id] = d.lastchange
		return id
	}
	rec := y
	rec.LocalID = 0
	rec.ServerID = types.ServerID(len(d.years))
	d.years = append(d.years, &rec)
	d.yearStamps = append(d.yearStamps, d.lastchange)
	recordsTotal.WithLabelValues("year").Inc()
	return rec.ServerID
}

func (d *Data) setLog(l types.Log) types.ServerID {
	if l.YearID != 0 && d.yearAt(l.YearID) == nil {
		d.wantedYears[l.YearID] = struct{}{}
	}
	if l.ServerID != 0 {
		if existing := d.logAt(l.ServerID); existing != nil {
			existing.Delta = l.Delta
			existing.Reason = l.Reason
			existing.Comment = l.Comment
			d.logStamps[l.ServerID] = d.lastchange
			return l.ServerID
		}
		d.logger.Warn().Int64("server_id", int64(l.ServerID)).Msg("re-adopting log entry under a lost id")
		rec := l
		rec.LocalID = 0
		d.placeLog(&rec, d.lastchange)
		return l.ServerID
	}
	if existing := d.findLog(l.Date, l.YearID); existing != nil {
		id := existing.ServerID
		existing.Delta = l.Delta
		existing.Reason = l.Reason
		existing.Comment = l.Comment
		d.logStamps[id] = d.lastchange
		return id
	}
	rec := l
	rec.LocalID = 0
	rec.ServerID = types.ServerID(len(d.log))
	d.log = append(d.log, &rec)
	d.logStamps = append(d.logStamps, d.lastchange)
	recordsTotal.WithLabelValues("log").Inc()
	return rec.ServerID
}

func (d *Data) vineyardAt(id types.ServerID) *types.Vineyard {
	if id <= 0 || types.ServerID(len(d.vineyards)) <= id {
		return nil
	}
	return d.vineyards[id]
}

func (d *Data) wineAt(id types.ServerID) *types.Wine {
	if id <= 0 || types.ServerID(len(d.wines)) <= id {
		return nil
	}
	return d.wines[id]
}

func (d *Data) yearAt(id types.ServerID) *types.Year {
	if id <= 0 || types.ServerID(len(d.years)) <= id {
		return nil
	}
	return d.years[id]
}

func (d *Data) logAt(id types.ServerID) *types.Log {
	if id <= 0 || types.ServerID(len(d.log)) <= id {
		return nil
	}
	return d.log[id]
}

func (d *Data) placeVineyard(rec *types.Vineyard, stamp int64) {
	for types.ServerID(len(d.vineyards)) <= rec.ServerID {
		d.vineyards = append(d.vineyards, nil)
		d.vineyardStamps = append(d.vineyardStamps, 0)
	}
	d.vineyards[rec.ServerID] = rec
	d.vineyardStamps[rec.ServerID] = stamp
	if stamp > d.lastchange {
		d.lastchange = stamp
	}
	recordsTotal.WithLabelValues("vineyard").Inc()
}

func (d *Data) placeWine(rec *types.Wine, stamp int64) {
	for types.ServerID(len(d.wines)) <= rec.ServerID {
		d.wines = append(d.wines, nil)
		d.wineStamps = append(d.wineStamps, 0)
	}
	d.wines[rec.ServerID] = rec
	d.wineStamps[rec.ServerID] = stamp
	if stamp > d.lastchange {
		d.lastchange = stamp
	}
	recordsTotal.WithLabelValues("wine").Inc()
}

func (d *Data) placeYear(rec *types.Year, stamp int64) {
	for types.ServerID(len(d.years)) <= rec.ServerID {
		d.years = append(d.years, nil)
		d.yearStamps = append(d.yearStamps, 0)
	}
	d.years[rec.ServerID] = rec
	d.yearStamps[rec.ServerID] = stamp
	if stamp > d.lastchange {
		d.lastchange = stamp
	}
	recordsTotal.WithLabelValues("year").Inc()
}

func (d *Data) placeLog(rec *types.Log, stamp int64) {
	for types.ServerID(len(d.log)) <= rec.ServerID {
		d.log = append(d.log, nil)
		d.logStamps = append(d.logStamps, 0)
	}
	d.log[rec.ServerID] = rec
	d.logStamps[rec.ServerID] = stamp
	if stamp > d.lastchange {
		d.lastchange = stamp
	}
	recordsTotal.WithLabelValues("log").Inc()
}

func (d *Data) findVineyard(name string) *types.Vineyard {
	for _, v := range d.vineyards {
		if v != nil && v.Name == name {
			return v
		}
	}
	return nil
}

func (d *Data) findWine(name string, vineyardID types.ServerID) *types.Wine {
	for _, w := range d.wines {
		if w != nil && w.Name == name && w.VineyardID == vineyardID {
			return w
		}
	}
	return nil
}

func (d *Data) findYear(year int, wineID types.ServerID) *types.Year {
	for _, y := range d.years {
		if y != nil && y.Year == year && y.WineID == wineID {
			return y
		}
	}
	return nil
}

func (d *Data) findLog(date string, yearID types.ServerID) *types.Log {
	for _, l := range d.log {
		if l != nil && l.Date == date && l.YearID == yearID {
			return l
		}
	}
	return nil
}

// checkReferences scans for children whose parents are missing, which can
// happen after restoring an older backup, and queues resend requests.
func (d *Data) checkReferences() {
	for _, w := range d.wines {
		if w != nil && w.VineyardID != 0 && d.vineyardAt(w.VineyardID) == nil {
			d.wantedVineyards[w.VineyardID] = struct{}{}
		}
	}
	for _, y := range d.years {
		if y != nil && y.WineID != 0 && d.wineAt(y.WineID) == nil {
			d.wantedWines[y.WineID] = struct{}{}
		}
	}
	for _, l := range d.log {
		if l != nil && l.YearID != 0 && d.yearAt(l.YearID) == nil {
			d.wantedYears[l.YearID] = struct{}{}
		}
	}
	if n := len(d.wantedVineyards) + len(d.wantedWines) + len(d.wantedYears); n > 0 {
		d.logger.Warn().Int("records", n).Msg("missing parent records, will request resend")
	}
}

// wantedLocked builds the resend request, or nil when nothing is missing.
// Callers hold d.mu.
func (d *Data) wantedLocked() *types.Resend {
	if len(d.wantedVineyards) == 0 && len(d.wantedWines) == 0 && len(d.wantedYears) == 0 {
		return nil
	}
	resend := &types.Resend{}
	for id := range d.wantedVineyards {
		resend.Vineyards = append(resend.Vineyards, id)
	}
	for id := range d.wantedWines {
		resend.Wines = append(resend.Wines, id)
	}
	for id := range d.wantedYears {
		resend.Years = append(resend.Years, id)
	}
	return resend
}
