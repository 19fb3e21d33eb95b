// Package store holds the client-side record hierarchy: vineyards, wines,
// vintages and the inventory log, with dirty-bit bookkeeping, local id
// assignment and natural-key lookups. The store is confined to a single
// goroutine; the sync engine and UI callbacks share one scheduling domain.
package store

import (
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/grape"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// UI is the notification sink for record additions the subscription lists
// cannot cover (a brand-new record has no subscribers yet).
type UI interface {
	AddYear(y *Year)
	AddLog(l *Log)
	ReviveYear(y *Year)
	IsStockMode() bool
}

// Options configures a Store. All fields are optional.
type Options struct {
	Persister   Persister
	UI          UI
	Watchpoints *Watchpoints
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Store is the local record repository. Local ids are dense array indexes
// starting at 1; slot 0 stays nil because the wire protocol treats id 0 as
// "no id".
type Store struct {
	logger  zerolog.Logger
	persist Persister
	watch   *Watchpoints
	ui      UI
	now     func() time.Time
	kicker  func()

	vineyards           []*Vineyard
	vineyardsByName     map[string]*Vineyard
	vineyardsByServerID map[types.ServerID]*Vineyard
	wines               []*Wine
	winesByServerID     map[types.ServerID]*Wine
	years               []*Year
	yearsByServerID     map[types.ServerID]*Year
	log                 []*Log
	logByServerID       map[types.ServerID]*Log

	globalDirty bool
	extraBackup bool

	nextVineyardID types.LocalID
	nextWineID     types.LocalID
	nextYearID     types.LocalID
	nextLogID      types.LocalID

	lastServerCommit  int64
	lastServerContact time.Time
	serverUUID        string

	// DefaultReasonAdd and DefaultReasonRemove seed the reason code of
	// automatically recorded log entries.
	DefaultReasonAdd    types.LogReason
	DefaultReasonRemove types.LogReason

	totalCount int
	totalValue float64

	geo    *GeoCache
	grapes *GrapeCache
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.Watchpoints == nil {
		opts.Watchpoints = NewWatchpoints()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		logger:              opts.Logger,
		persist:             opts.Persister,
		watch:               opts.Watchpoints,
		ui:                  opts.UI,
		now:                 opts.Now,
		vineyards:           make([]*Vineyard, 1),
		vineyardsByName:     make(map[string]*Vineyard),
		vineyardsByServerID: make(map[types.ServerID]*Vineyard),
		wines:               make([]*Wine, 1),
		winesByServerID:     make(map[types.ServerID]*Wine),
		years:               make([]*Year, 1),
		yearsByServerID:     make(map[types.ServerID]*Year),
		log:                 make([]*Log, 1),
		logByServerID:       make(map[types.ServerID]*Log),
		nextVineyardID:      1,
		nextWineID:          1,
		nextYearID:          1,
		nextLogID:           1,
	}
	s.geo = newGeoCache(s)
	s.grapes = newGrapeCache(s)
	return s
}

// NewFromSnapshot restores a store from persisted state, parents before
// children.
func NewFromSnapshot(opts Options, snap *Snapshot) *Store {
	s := New(opts)
	if snap == nil {
		return s
	}
	if snap.NextVineyardID > 0 {
		s.nextVineyardID = snap.NextVineyardID
	}
	if snap.NextWineID > 0 {
		s.nextWineID = snap.NextWineID
	}
	if snap.NextYearID > 0 {
		s.nextYearID = snap.NextYearID
	}
	if snap.NextLogID > 0 {
		s.nextLogID = snap.NextLogID
	}
	s.lastServerCommit = snap.LastServerCommit
	s.lastServerContact = snap.LastServerContact
	s.serverUUID = snap.ServerUUID

	for _, id := range sortedIDs(snap.Vineyards) {
		row := snap.Vineyards[id]
		s.createVineyardWithID(row.Data, row.Dirty, id)
	}
	for _, id := range sortedIDs(snap.Wines) {
		row := snap.Wines[id]
		s.createWineWithID(row.Data, row.Dirty, row.Vineyard, id)
	}
	for _, id := range sortedIDs(snap.Years) {
		row := snap.Years[id]
		s.createYearWithID(row.Data, row.Dirty, row.Wine, id)
	}
	for _, id := range sortedIDs(snap.Log) {
		row := snap.Log[id]
		s.createLogWithID(row.Data, row.Dirty, row.Year, id)
	}
	return s
}

func sortedIDs[T any](m map[types.LocalID]T) []types.LocalID {
	ids := make([]types.LocalID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetKicker registers the sync engine's wakeup callback.
func (s *Store) SetKicker(kick func()) {
	s.kicker = kick
}

// Watch returns the store's watchpoint bundle.
func (s *Store) Watch() *Watchpoints { return s.watch }

// Geo returns the country/region completion cache.
func (s *Store) Geo() *GeoCache { return s.geo }

// Grapes returns the grape variety completion cache.
func (s *Store) Grapes() *GrapeCache { return s.grapes }

// IsGlobalDirty reports whether any record awaits a push.
func (s *Store) IsGlobalDirty() bool { return s.globalDirty }

// TotalCount returns the running cellar-wide bottle count.
func (s *Store) TotalCount() int { return s.totalCount }

// TotalValue returns the running cellar-wide inventory value.
func (s *Store) TotalValue() float64 { return s.totalValue }

func (s *Store) dataChanged() {
	s.globalDirty = true
	if s.kicker != nil {
		s.kicker()
	}
}

func (s *Store) addTotals(priceDelta float64, countDelta int) {
	s.totalValue += priceDelta
	s.totalCount += countDelta
	s.watch.Totals.NotifyDelta(priceDelta, countDelta)
}

// RequestExtraBackup asks the server to archive a backup snapshot alongside
// the next upload.
func (s *Store) RequestExtraBackup() {
	s.extraBackup = true
}

// LastServerCommit returns the persisted commit cursor.
func (s *Store) LastServerCommit() int64 { return s.lastServerCommit }

// SetLastServerCommit persists a new commit cursor.
func (s *Store) SetLastServerCommit(commit int64) {
	s.lastServerCommit = commit
	s.putMeta(MetaLastServerCommit, strconv.FormatInt(commit, 10))
}

// LastServerContact returns the time of the last successful sync exchange.
func (s *Store) LastServerContact() time.Time { return s.lastServerContact }

// SetLastServerContact persists the contact timestamp.
func (s *Store) SetLastServerContact(t time.Time) {
	s.lastServerContact = t
	s.putMeta(MetaLastServerContact, strconv.FormatInt(t.Unix(), 10))
}

// ServerUUID returns the remembered server instance identity.
func (s *Store) ServerUUID() string { return s.serverUUID }

// SetServerUUID persists the server instance identity.
func (s *Store) SetServerUUID(uuid string) {
	s.serverUUID = uuid
	s.putMeta(MetaServerUUID, uuid)
}

// GetOrCreateVineyard returns the vineyard with the given name, creating a
// dirty skeleton record if none exists.
func (s *Store) GetOrCreateVineyard(name string) *Vineyard {
	if v, ok := s.vineyardsByName[name]; ok {
		return v
	}
	data := types.Vineyard{Name: name}
	return s.createVineyard(data, types.Dirty, true)
}

// GetOrCreateWine returns the named wine under the vineyard, creating a
// dirty skeleton record if none exists. A tombstoned wine under the same
// name is revived instead of duplicated, preserving its ids and vintages.
func (s *Store) GetOrCreateWine(v *Vineyard, name string) *Wine {
	if w, ok := v.winesByName[name]; ok {
		return w
	}
	if deleted := v.deletedWine(name); deleted != nil {
		deleted.reviveDeleted()
		return deleted
	}
	data := types.Wine{Name: name}
	return s.createWine(data, types.Dirty, v.localID, true)
}

// GetOrCreateYear records an acquisition of count bottles of the given
// vintage. A soft-deleted vintage under the same key is revived instead of
// duplicated, preserving its ids and history. In stock-taking mode the count
// goes to the stock field and no log entry is written.
func (s *Store) GetOrCreateYear(w *Wine, year, count int, price float64, comment, location string) *Year {
	stockMode := s.ui != nil && s.ui.IsStockMode()
	stock := 0
	if stockMode {
		stock = count
		count = 0
	}
	if deleted := w.deletedYear(year); deleted != nil {
		deleted.reviveDeleted(count, stock, price, comment, location)
		if !stockMode {
			s.RecordLog(deleted, count)
		}
		if s.ui != nil {
			s.ui.ReviveYear(deleted)
		}
		return deleted
	}
	data := types.Year{
		Year:     year,
		Count:    count,
		Stock:    stock,
		Price:    price,
		Comment:  comment,
		Location: location,
	}
	y := s.createYear(data, types.Dirty, w.localID, true)
	if !stockMode {
		s.RecordLog(y, count)
	}
	return y
}

// RecordLog books an inventory movement against the vintage. Movements on
// the same calendar day accumulate into one entry.
func (s *Store) RecordLog(y *Year, delta int) {
	date := s.dateString()
	if l := y.logByDate[date]; l != nil {
		l.AddDelta(delta)
		return
	}
	reason := s.DefaultReasonAdd
	if delta < 0 {
		reason = s.DefaultReasonRemove
	}
	data := types.Log{Date: date, Delta: delta, Reason: reason}
	s.createLog(data, types.Dirty, y.localID, true)
}

// recordStockLog books the delta computed by a stock-taking reconciliation.
// Stock corrections get their own reserved reason code and never fold into a
// regular same-day entry.
func (s *Store) recordStockLog(y *Year, delta int) {
	date := s.dateString()
	if l := y.logByDate[date]; l != nil && l.data.Reason == types.ReasonStock {
		l.AddDelta(delta)
		return
	}
	data := types.Log{Date: date, Delta: delta, Reason: types.ReasonStock}
	s.createLog(data, types.Dirty, y.localID, true)
}

func (s *Store) dateString() string {
	return s.now().Format("2006-01-02")
}

// ApplyAllStock folds every vintage's stock count into its live count.
func (s *Store) ApplyAllStock() {
	s.EachYear(func(y *Year) { y.ApplyStock() })
}

// ResetAllStock zeroes every vintage's stock count.
func (s *Store) ResetAllStock() {
	s.EachYear(func(y *Year) { y.ResetStock() })
}

// VineyardNames returns all live vineyard names, sorted.
func (s *Store) VineyardNames() []string {
	var names []string
	s.EachVineyard(func(v *Vineyard) { names = append(names, v.data.Name) })
	sort.Strings(names)
	return names
}

// WineNamesForVineyard returns the sorted wine names of a vineyard by name.
func (s *Store) WineNamesForVineyard(vineyardName string) []string {
	v, ok := s.vineyardsByName[vineyardName]
	if !ok {
		return nil
	}
	return v.WineNames()
}

// VineyardByName returns the live vineyard with the given name, or nil.
func (s *Store) VineyardByName(name string) *Vineyard {
	return s.vineyardsByName[name]
}

// EachVineyard visits every live vineyard.
func (s *Store) EachVineyard(fn func(*Vineyard)) {
	for _, v := range s.vineyards {
		if v == nil || v.data.Deleted {
			continue
		}
		fn(v)
	}
}

// EachWine visits every live wine.
func (s *Store) EachWine(fn func(*Wine)) {
	for _, w := range s.wines {
		if w == nil || w.data.Deleted {
			continue
		}
		fn(w)
	}
}

// EachYear visits every live vintage.
func (s *Store) EachYear(fn func(*Year)) {
	for _, y := range s.years {
		if y == nil || y.data.Count < 0 {
			continue
		}
		fn(y)
	}
}

// EachLog visits every log entry.
func (s *Store) EachLog(fn func(*Log)) {
	for _, l := range s.log {
		if l == nil {
			continue
		}
		fn(l)
	}
}

func (s *Store) getNextVineyardID(persistNext bool) types.LocalID {
	id := s.nextVineyardID
	s.nextVineyardID++
	if persistNext {
		s.persistNextVineyardID()
	}
	return id
}

func (s *Store) getNextWineID(persistNext bool) types.LocalID {
	id := s.nextWineID
	s.nextWineID++
	if persistNext {
		s.persistNextWineID()
	}
	return id
}

func (s *Store) getNextYearID(persistNext bool) types.LocalID {
	id := s.nextYearID
	s.nextYearID++
	if persistNext {
		s.persistNextYearID()
	}
	return id
}

func (s *Store) getNextLogID(persistNext bool) types.LocalID {
	id := s.nextLogID
	s.nextLogID++
	if persistNext {
		s.persistNextLogID()
	}
	return id
}

// createVineyard inserts a new vineyard record. Inserts coming from server
// data batch the next-id persistence (persistNext=false) and flush it once
// per category.
func (s *Store) createVineyard(data types.Vineyard, dirty types.DirtyState, persistNext bool) *Vineyard {
	id := s.getNextVineyardID(persistNext)
	v := s.createVineyardWithID(data, dirty, id)
	s.persistVineyard(v)
	return v
}

func (s *Store) createWine(data types.Wine, dirty types.DirtyState, vineyardID types.LocalID, persistNext bool) *Wine {
	if data.Grape == "" {
		if guess := grape.GuessForWine(data.Name); guess != "" {
			data.Grape = guess
			dirty.MarkDirty()
		}
	}
	id := s.getNextWineID(persistNext)
	w := s.createWineWithID(data, dirty, vineyardID, id)
	s.persistWine(w)
	return w
}

func (s *Store) createYear(data types.Year, dirty types.DirtyState, wineID types.LocalID, persistNext bool) *Year {
	id := s.getNextYearID(persistNext)
	y := s.createYearWithID(data, dirty, wineID, id)
	s.persistYear(y)
	return y
}

func (s *Store) createLog(data types.Log, dirty types.DirtyState, yearID types.LocalID, persistNext bool) *Log {
	id := s.getNextLogID(persistNext)
	l := s.createLogWithID(data, dirty, yearID, id)
	s.persistLog(l)
	return l
}

func (s *Store) createVineyardWithID(data types.Vineyard, dirty types.DirtyState, id types.LocalID) *Vineyard {
	v := &Vineyard{
		store:       s,
		localID:     id,
		data:        data,
		dirty:       dirty,
		winesByName: make(map[string]*Wine),
	}
	s.placeVineyard(id, v)
	if !data.Deleted {
		s.vineyardsByName[data.Name] = v
	}
	if data.ServerID != 0 {
		s.vineyardsByServerID[data.ServerID] = v
	}
	s.geo.insertPair(data.Country, data.Region)
	if dirty.IsDirty() {
		s.dataChanged()
	}
	return v
}

func (s *Store) createWineWithID(data types.Wine, dirty types.DirtyState, vineyardID types.LocalID, id types.LocalID) *Wine {
	w := &Wine{
		store:       s,
		localID:     id,
		data:        data,
		dirty:       dirty,
		yearsByYear: make(map[int]*Year),
	}
	s.placeWine(id, w)
	if data.ServerID != 0 {
		s.winesByServerID[data.ServerID] = w
	}
	s.grapes.update(data.Grape)
	parent := s.vineyardAt(vineyardID)
	if parent == nil {
		panic("bug: wine created before its vineyard")
	}
	parent.addWine(w)
	if dirty.IsDirty() {
		s.dataChanged()
	}
	return w
}

func (s *Store) createYearWithID(data types.Year, dirty types.DirtyState, wineID types.LocalID, id types.LocalID) *Year {
	y := &Year{
		store:     s,
		localID:   id,
		data:      data,
		dirty:     dirty,
		logByDate: make(map[string]*Log),
	}
	s.placeYear(id, y)
	if data.ServerID != 0 {
		s.yearsByServerID[data.ServerID] = y
	}
	parent := s.wineAt(wineID)
	if parent == nil {
		panic("bug: year created before its wine")
	}
	parent.addYear(y)
	if data.Count > 0 {
		s.addTotals(float64(data.Count)*data.Price, data.Count)
	}
	if s.ui != nil {
		s.ui.AddYear(y)
	}
	if dirty.IsDirty() {
		s.dataChanged()
	}
	return y
}

func (s *Store) createLogWithID(data types.Log, dirty types.DirtyState, yearID types.LocalID, id types.LocalID) *Log {
	l := &Log{
		store:   s,
		localID: id,
		data:    data,
		dirty:   dirty,
	}
	s.placeLog(id, l)
	if data.ServerID != 0 {
		s.logByServerID[data.ServerID] = l
	}
	parent := s.yearAt(yearID)
	if parent == nil {
		panic("bug: log entry created before its year")
	}
	parent.addLog(l)
	if s.ui != nil {
		s.ui.AddLog(l)
	}
	if dirty.IsDirty() {
		s.dataChanged()
	}
	return l
}

func (s *Store) placeVineyard(id types.LocalID, v *Vineyard) {
	for types.LocalID(len(s.vineyards)) <= id {
		s.vineyards = append(s.vineyards, nil)
	}
	s.vineyards[id] = v
	if s.nextVineyardID <= id {
		s.nextVineyardID = id + 1
	}
}

func (s *Store) placeWine(id types.LocalID, w *Wine) {
	for types.LocalID(len(s.wines)) <= id {
		s.wines = append(s.wines, nil)
	}
	s.wines[id] = w
	if s.nextWineID <= id {
		s.nextWineID = id + 1
	}
}

func (s *Store) placeYear(id types.LocalID, y *Year) {
	for types.LocalID(len(s.years)) <= id {
		s.years = append(s.years, nil)
	}
	s.years[id] = y
	if s.nextYearID <= id {
		s.nextYearID = id + 1
	}
}

func (s *Store) placeLog(id types.LocalID, l *Log) {
	for types.LocalID(len(s.log)) <= id {
		s.log = append(s.log, nil)
	}
	s.log[id] = l
	if s.nextLogID <= id {
		s.nextLogID = id + 1
	}
}

func (s *Store) vineyardAt(id types.LocalID) *Vineyard {
	if id <= 0 || types.LocalID(len(s.vineyards)) <= id {
		return nil
	}
	return s.vineyards[id]
}

func (s *Store) wineAt(id types.LocalID) *Wine {
	if id <= 0 || types.LocalID(len(s.wines)) <= id {
		return nil
	}
	return s.wines[id]
}

func (s *Store) yearAt(id types.LocalID) *Year {
	if id <= 0 || types.LocalID(len(s.years)) <= id {
		return nil
	}
	return s.years[id]
}

func (s *Store) logAt(id types.LocalID) *Log {
	if id <= 0 || types.LocalID(len(s.log)) <= id {
		return nil
	}
	return s.log[id]
}

// ClearAll wipes both the persisted and the in-memory state, used when this
// replica switches to a different server database and has to re-download
// everything.
func (s *Store) ClearAll() error {
	if s.persist != nil {
		if err := s.persist.Clear(); err != nil {
			return err
		}
	}
	s.vineyards = []*Vineyard{nil}
	s.vineyardsByName = make(map[string]*Vineyard)
	s.vineyardsByServerID = make(map[types.ServerID]*Vineyard)
	s.wines = []*Wine{nil}
	s.winesByServerID = make(map[types.ServerID]*Wine)
	s.years = []*Year{nil}
	s.yearsByServerID = make(map[types.ServerID]*Year)
	s.log = []*Log{nil}
	s.logByServerID = make(map[types.ServerID]*Log)
	s.nextVineyardID = 1
	s.nextWineID = 1
	s.nextYearID = 1
	s.nextLogID = 1
	s.globalDirty = false
	s.extraBackup = false
	s.totalCount = 0
	s.totalValue = 0
	s.lastServerCommit = 0
	s.geo = newGeoCache(s)
	s.grapes = newGrapeCache(s)
	s.watch.Deletions.Notify()
	return nil
}

func (s *Store) persistVineyard(v *Vineyard) {
	if s.persist == nil {
		return
	}
	if err := s.persist.PutVineyard(v.localID, VineyardRow{Data: v.data, Dirty: v.dirty}); err != nil {
		s.logger.Error().Err(err).Int64("local_id", int64(v.localID)).Msg("persisting vineyard failed")
	}
}

func (s *Store) persistWine(w *Wine) {
	if s.persist == nil {
		return
	}
	row := WineRow{Data: w.data, Dirty: w.dirty}
	if w.vineyard != nil {
		row.Vineyard = w.vineyard.localID
	}
	if err := s.persist.PutWine(w.localID, row); err != nil {
		s.logger.Error().Err(err).Int64("local_id", int64(w.localID)).Msg("persisting wine failed")
	}
}

func (s *Store) persistYear(y *Year) {
	if s.persist == nil {
		return
	}
	row := YearRow{Data: y.data, Dirty: y.dirty}
	if y.wine != nil {
		row.Wine = y.wine.localID
	}
	if err := s.persist.PutYear(y.localID, row); err != nil {
		s.logger.Error().Err(err).Int64("local_id", int64(y.localID)).Msg("persisting year failed")
	}
}

func (s *Store) persistLog(l *Log) {
	if s.persist == nil {
		return
	}
	row := LogRow{Data: l.data, Dirty: l.dirty}
	if l.year != nil {
		row.Year = l.year.localID
	}
	if err := s.persist.PutLog(l.localID, row); err != nil {
		s.logger.Error().Err(err).Int64("local_id", int64(l.localID)).Msg("persisting log entry failed")
	}
}

func (s *Store) putMeta(key, value string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.PutMeta(key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("persisting metadata failed")
	}
}

func (s *Store) persistNextVineyardID() {
	s.putMeta(MetaNextVineyardID, strconv.FormatInt(int64(s.nextVineyardID), 10))
}

func (s *Store) persistNextWineID() {
	s.putMeta(MetaNextWineID, strconv.FormatInt(int64(s.nextWineID), 10))
}

func (s *Store) persistNextYearID() {
	s.putMeta(MetaNextYearID, strconv.FormatInt(int64(s.nextYearID), 10))
}

func (s *Store) persistNextLogID() {
	s.putMeta(MetaNextLogID, strconv.FormatInt(int64(s.nextLogID), 10))
}
