package store

import (
	"fmt"
	"sort"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// observable is the per-entity subscription list. The UI subscribes to a
// record and re-renders whenever a committed mutation notifies it.
type observable struct {
	observers []func()
}

// Subscribe registers fn and returns a cancel function.
func (o *observable) Subscribe(fn func()) func() {
	o.observers = append(o.observers, fn)
	idx := len(o.observers) - 1
	return func() {
		o.observers[idx] = nil
	}
}

func (o *observable) notify() {
	for _, fn := range o.observers {
		if fn != nil {
			fn()
		}
	}
}

// Vineyard is a producer with its wines attached.
type Vineyard struct {
	observable
	store       *Store
	localID     types.LocalID
	data        types.Vineyard
	dirty       types.DirtyState
	wines       []*Wine
	winesByName map[string]*Wine
}

func (v *Vineyard) LocalID() types.LocalID   { return v.localID }
func (v *Vineyard) ServerID() types.ServerID { return v.data.ServerID }
func (v *Vineyard) IsDirty() bool            { return v.dirty.IsDirty() }
func (v *Vineyard) IsDeleted() bool          { return v.data.Deleted }

// Data returns a copy of the record's current fields.
func (v *Vineyard) Data() types.Vineyard { return v.data }

func (v *Vineyard) changed() {
	v.dirty.MarkDirty()
	v.store.dataChanged()
	v.changedNoDirtyMark()
}

func (v *Vineyard) changedNoDirtyMark() {
	v.notify()
	v.store.persistVineyard(v)
}

// markSyncDone binds the server id (on first contact) and clears the pending
// bit. A receipt that contradicts an established server id is a protocol bug.
func (v *Vineyard) markSyncDone(serverID types.ServerID) {
	if v.data.ServerID != 0 {
		if v.data.ServerID != serverID {
			panic(fmt.Sprintf("bug: vineyard server_id mismatch, was %d, got %d", v.data.ServerID, serverID))
		}
	} else {
		v.data.ServerID = serverID
	}
	v.dirty.MarkSyncDone()
	v.changedNoDirtyMark()
}

// deletedWine returns the tombstoned wine with the given name, if any.
func (v *Vineyard) deletedWine(name string) *Wine {
	for _, w := range v.wines {
		if w.data.Deleted && w.data.Name == name {
			return w
		}
	}
	return nil
}

func (v *Vineyard) addWine(w *Wine) {
	v.wines = append(v.wines, w)
	if !w.data.Deleted {
		v.winesByName[w.data.Name] = w
	}
	w.vineyard = v
}

// WineNames returns the live wine names under this vineyard, sorted.
func (v *Vineyard) WineNames() []string {
	names := make([]string, 0, len(v.wines))
	for _, w := range v.wines {
		if !w.data.Deleted {
			names = append(names, w.data.Name)
		}
	}
	sort.Strings(names)
	return names
}

// EachWine visits every live wine of this vineyard.
func (v *Vineyard) EachWine(fn func(*Wine)) {
	for _, w := range v.wines {
		if w.data.Deleted {
			continue
		}
		fn(w)
	}
}

// EachYear visits every live vintage under this vineyard.
func (v *Vineyard) EachYear(fn func(*Year)) {
	v.EachWine(func(w *Wine) { w.EachYear(fn) })
}

// SaveEdits applies a full edit of the vineyard's fields, marking dirty only
// when something actually changed. Callers must resolve rename collisions
// (via the merge path) before calling this.
func (v *Vineyard) SaveEdits(name, country, region, website, address, comment string) {
	changed := false
	countryChanged := false
	regionChanged := false
	if v.data.Name != name {
		delete(v.store.vineyardsByName, v.data.Name)
		v.data.Name = name
		v.store.vineyardsByName[name] = v
		changed = true
	}
	if v.data.Country != country {
		v.data.Country = country
		countryChanged = true
		changed = true
	}
	if v.data.Region != region {
		v.data.Region = region
		regionChanged = true
		changed = true
	}
	if v.data.Website != website {
		v.data.Website = website
		changed = true
	}
	if v.data.Address != address {
		v.data.Address = address
		changed = true
	}
	if v.data.Comment != comment {
		v.data.Comment = comment
		changed = true
	}
	if countryChanged || regionChanged {
		v.store.geo.insertPair(country, region)
	}
	if countryChanged {
		v.store.watch.VineyardCountries.Notify()
	}
	if regionChanged {
		v.store.watch.VineyardRegions.Notify()
	}
	if changed {
		v.changed()
	}
}

// Delete tombstones the vineyard, freeing its natural-key slot. Only valid
// once all its wines are deleted.
func (v *Vineyard) Delete() {
	if v.data.Deleted {
		return
	}
	v.data.Deleted = true
	delete(v.store.vineyardsByName, v.data.Name)
	v.changed()
	v.store.watch.Deletions.Notify()
}

// ApplyStock folds stock-taking counts into live counts for all vintages.
func (v *Vineyard) ApplyStock() {
	for _, w := range v.wines {
		if !w.data.Deleted {
			w.ApplyStock()
		}
	}
}

// Wine is a single wine of a vineyard, holding its vintages.
type Wine struct {
	observable
	store       *Store
	localID     types.LocalID
	data        types.Wine
	dirty       types.DirtyState
	vineyard    *Vineyard
	years       []*Year
	yearsByYear map[int]*Year
}

func (w *Wine) LocalID() types.LocalID   { return w.localID }
func (w *Wine) ServerID() types.ServerID { return w.data.ServerID }
func (w *Wine) IsDirty() bool            { return w.dirty.IsDirty() }
func (w *Wine) IsDeleted() bool          { return w.data.Deleted }
func (w *Wine) Vineyard() *Vineyard      { return w.vineyard }

// Data returns a copy of the record's current fields.
func (w *Wine) Data() types.Wine { return w.data }

func (w *Wine) changed() {
	w.dirty.MarkDirty()
	w.store.dataChanged()
	w.changedNoDirtyMark()
}

func (w *Wine) changedNoDirtyMark() {
	w.notify()
	w.store.persistWine(w)
}

func (w *Wine) markSyncDone(serverID types.ServerID) {
	if w.data.ServerID != 0 {
		if w.data.ServerID != serverID {
			panic(fmt.Sprintf("bug: wine server_id mismatch, was %d, got %d", w.data.ServerID, serverID))
		}
	} else {
		w.data.ServerID = serverID
	}
	w.dirty.MarkSyncDone()
	w.changedNoDirtyMark()
}

// HasYear reports whether a live vintage exists for the given year number.
func (w *Wine) HasYear(year int) bool {
	y, ok := w.yearsByYear[year]
	return ok && y.data.Count >= 0
}

// deletedYear returns the soft-deleted vintage for the year number, if any.
func (w *Wine) deletedYear(year int) *Year {
	if y, ok := w.yearsByYear[year]; ok && y.data.Count < 0 {
		return y
	}
	return nil
}

func (w *Wine) addYear(y *Year) {
	w.years = append(w.years, y)
	w.yearsByYear[y.data.Year] = y
	y.wine = w
}

// EachYear visits every live vintage of this wine.
func (w *Wine) EachYear(fn func(*Year)) {
	for _, y := range w.years {
		if y.data.Count < 0 {
			continue
		}
		fn(y)
	}
}

// SaveEdits applies a full edit of name, grape and comment. Callers must
// resolve rename collisions (via the merge path) before calling this.
func (w *Wine) SaveEdits(name, grapeName, comment string) {
	changed := false
	grapeChanged := false
	if w.data.Name != name {
		delete(w.vineyard.winesByName, w.data.Name)
		w.data.Name = name
		w.vineyard.winesByName[name] = w
		changed = true
	}
	if w.data.Grape != grapeName {
		w.data.Grape = grapeName
		grapeChanged = true
		w.store.grapes.update(grapeName)
	}
	if w.data.Comment != comment {
		w.data.Comment = comment
		changed = true
	}
	if changed || grapeChanged {
		w.changed()
	}
	if grapeChanged {
		w.store.watch.GrapeNames.Notify()
	}
}

// Delete tombstones the wine, freeing its natural-key slot under the parent
// vineyard. Only valid once all its vintages are soft-deleted.
func (w *Wine) Delete() {
	if w.data.Deleted {
		return
	}
	w.data.Deleted = true
	delete(w.vineyard.winesByName, w.data.Name)
	w.changed()
	w.store.watch.Deletions.Notify()
}

// reviveDeleted resurrects a tombstoned wine under its old ids, reclaiming
// its natural-key slot. Keeps the record's server id so the server's
// name-based match lands on the same record instead of a duplicate.
func (w *Wine) reviveDeleted() {
	if !w.data.Deleted {
		return
	}
	w.data.Deleted = false
	w.vineyard.winesByName[w.data.Name] = w
	w.changed()
	w.store.watch.Deletions.Notify()
}

// ApplyStock folds stock-taking counts into live counts for all vintages.
func (w *Wine) ApplyStock() {
	w.EachYear(func(y *Year) { y.ApplyStock() })
}

// Year is a vintage of a wine, carrying the inventory line.
type Year struct {
	observable
	store     *Store
	localID   types.LocalID
	data      types.Year
	dirty     types.DirtyState
	wine      *Wine
	logByDate map[string]*Log
}

func (y *Year) LocalID() types.LocalID   { return y.localID }
func (y *Year) ServerID() types.ServerID { return y.data.ServerID }
func (y *Year) IsDirty() bool            { return y.dirty.IsDirty() }
func (y *Year) IsDeleted() bool          { return y.data.Count < 0 }
func (y *Year) Wine() *Wine              { return y.wine }

// Data returns a copy of the record's current fields.
func (y *Year) Data() types.Year { return y.data }

func (y *Year) changed() {
	y.dirty.MarkDirty()
	y.store.dataChanged()
	y.changedNoDirtyMark()
}

func (y *Year) changedNoDirtyMark() {
	y.notify()
	y.store.persistYear(y)
}

func (y *Year) markSyncDone(serverID types.ServerID) {
	if y.data.ServerID != 0 {
		if y.data.ServerID != serverID {
			panic(fmt.Sprintf("bug: year server_id mismatch, was %d, got %d", y.data.ServerID, serverID))
		}
	} else {
		y.data.ServerID = serverID
	}
	y.dirty.MarkSyncDone()
	y.changedNoDirtyMark()
}

// Increment adds one bottle and records the movement in the log.
func (y *Year) Increment() {
	y.data.Count++
	y.changed()
	y.store.addTotals(y.data.Price, 1)
	y.store.RecordLog(y, 1)
}

// Decrement removes one bottle, if any are left, and records the movement.
func (y *Year) Decrement() {
	if y.data.Count <= 0 {
		return
	}
	y.data.Count--
	y.changed()
	y.store.addTotals(-y.data.Price, -1)
	y.store.RecordLog(y, -1)
}

// Delete soft-deletes the vintage. The record and its history stay around so
// a later re-creation under the same key revives it.
func (y *Year) Delete() {
	if y.data.Count > 0 {
		y.store.addTotals(-y.data.Price*float64(y.data.Count), -y.data.Count)
	}
	y.data.Count = -1
	y.changed()
	y.store.watch.Deletions.Notify()
}

// StockIncrement bumps the stock-taking counter without touching the live
// count or the log.
func (y *Year) StockIncrement() {
	y.data.Stock++
	y.changed()
}

// StockDecrement lowers the stock-taking counter.
func (y *Year) StockDecrement() {
	if y.data.Stock <= 0 {
		return
	}
	y.data.Stock--
	y.changed()
}

// ApplyStock reconciles the live count with the stock-taking counter,
// writing exactly one stock-reason log entry for the difference.
func (y *Year) ApplyStock() {
	if y.data.Count == y.data.Stock {
		return
	}
	countDelta := y.data.Stock - y.data.Count
	priceDelta := y.data.Price * float64(countDelta)
	y.data.Count = y.data.Stock
	y.changed()
	y.store.addTotals(priceDelta, countDelta)
	y.store.recordStockLog(y, countDelta)
}

// ResetStock zeroes the stock-taking counter.
func (y *Year) ResetStock() {
	changed := y.data.Stock != 0
	y.data.Stock = 0
	if changed {
		y.changed()
	}
}

// EditPriceComment updates price and comment together, as the edit dialog
// submits them.
func (y *Year) EditPriceComment(price float64, comment string) {
	priceChanged := false
	commentChanged := false
	var priceDelta float64
	if y.data.Price != price {
		priceDelta = price - y.data.Price
		y.data.Price = price
		priceChanged = true
	}
	if y.data.Comment != comment {
		y.data.Comment = comment
		commentChanged = true
	}
	if priceChanged || commentChanged {
		y.changed()
	}
	if priceChanged {
		y.store.addTotals(priceDelta*float64(y.data.Count), 0)
	}
}

// SetRating stores the 1-5 star rating.
func (y *Year) SetRating(rating int) {
	if y.data.Rating == rating {
		return
	}
	y.data.Rating = rating
	y.changed()
}

// SetValue stores the value-for-money assessment.
func (y *Year) SetValue(value int) {
	if y.data.Value == value {
		return
	}
	y.data.Value = value
	y.changed()
}

// SetSweetness stores the sweetness assessment.
func (y *Year) SetSweetness(sweetness int) {
	if y.data.Sweetness == sweetness {
		return
	}
	y.data.Sweetness = sweetness
	y.changed()
}

// SetAge stores the drink-by horizon in years.
func (y *Year) SetAge(age int) {
	if y.data.Age == age {
		return
	}
	y.data.Age = age
	y.changed()
}

// SetLocation stores where in the cellar the bottles sit.
func (y *Year) SetLocation(location string) {
	if y.data.Location == location {
		return
	}
	y.data.Location = location
	y.changed()
}

// reviveDeleted resurrects a soft-deleted vintage under its old ids.
func (y *Year) reviveDeleted(count, stock int, price float64, comment, location string) {
	y.data.Count = count
	y.data.Stock = stock
	if price != 0 {
		y.data.Price = price
	}
	if comment != "" {
		y.data.Comment = comment
	}
	if location != "" {
		y.data.Location = location
	}
	// Keep the other old fields, they may still be useful.
	y.changed()
	y.store.addTotals(float64(count)*y.data.Price, count)
}

func (y *Year) addLog(l *Log) {
	y.logByDate[l.data.Date] = l
	l.year = y
}

// LogOn returns the log entry for the given date, if one exists.
func (y *Year) LogOn(date string) *Log {
	return y.logByDate[date]
}

// Log is one day's inventory movement for a vintage.
type Log struct {
	observable
	store   *Store
	localID types.LocalID
	data    types.Log
	dirty   types.DirtyState
	year    *Year
}

func (l *Log) LocalID() types.LocalID   { return l.localID }
func (l *Log) ServerID() types.ServerID { return l.data.ServerID }
func (l *Log) IsDirty() bool            { return l.dirty.IsDirty() }
func (l *Log) Year() *Year              { return l.year }

// Data returns a copy of the record's current fields.
func (l *Log) Data() types.Log { return l.data }

func (l *Log) changed() {
	l.dirty.MarkDirty()
	l.store.dataChanged()
	l.changedNoDirtyMark()
}

func (l *Log) changedNoDirtyMark() {
	l.notify()
	l.store.persistLog(l)
}

func (l *Log) markSyncDone(serverID types.ServerID) {
	if l.data.ServerID != 0 {
		if l.data.ServerID != serverID {
			panic(fmt.Sprintf("bug: log server_id mismatch, was %d, got %d", l.data.ServerID, serverID))
		}
	} else {
		l.data.ServerID = serverID
	}
	l.dirty.MarkSyncDone()
	l.changedNoDirtyMark()
}

// AddDelta folds another same-day movement into this entry.
func (l *Log) AddDelta(count int) {
	l.data.Delta += count
	l.changed()
}

// SetReason updates the movement's reason code.
func (l *Log) SetReason(reason types.LogReason) {
	if l.data.Reason == reason {
		return
	}
	l.data.Reason = reason
	l.changed()
}

// SetComment updates the movement's comment.
func (l *Log) SetComment(comment string) {
	if l.data.Comment == comment {
		return
	}
	l.data.Comment = comment
	l.changed()
}
