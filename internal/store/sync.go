package store

import (
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// MaxBatchSize caps how many records FindWork packs into one upload.
const MaxBatchSize = 100

func (v *Vineyard) packForSync() types.Vineyard {
	v.dirty.MarkSyncPending()
	pack := v.data
	pack.LocalID = v.localID
	return pack
}

func (w *Wine) packForSync() types.Wine {
	w.dirty.MarkSyncPending()
	// Remember the parent's server identity once it is known; outgoing
	// records always carry server-side foreign keys.
	w.data.VineyardID = w.vineyard.data.ServerID
	pack := w.data
	pack.LocalID = w.localID
	return pack
}

func (y *Year) packForSync() types.Year {
	y.dirty.MarkSyncPending()
	y.data.WineID = y.wine.data.ServerID
	pack := y.data
	pack.LocalID = y.localID
	return pack
}

func (l *Log) packForSync() types.Log {
	l.dirty.MarkSyncPending()
	l.data.YearID = l.year.data.ServerID
	pack := l.data
	pack.LocalID = l.localID
	return pack
}

// FindWork collects dirty records into an upload batch, parents before
// children, up to MaxBatchSize records. Scanning stops descending into later
// categories as soon as a record without a server id was packed: its
// children cannot carry a valid foreign key until the receipt arrives. The
// stop is conservative and also withholds later-category records whose own
// parents are already resolved. Returns nil when there is nothing to send.
//
// The global dirty bit is only cleared by a complete scan that neither hit
// the cap nor the stop condition.
func (s *Store) FindWork() *types.Batch {
	if !s.globalDirty {
		return nil
	}
	found := 0
	stop := false
	batch := &types.Batch{ExtraBackup: s.extraBackup}
	s.extraBackup = false

	for _, v := range s.vineyards {
		if found >= MaxBatchSize {
			break
		}
		if v == nil || !v.dirty.IsDirty() {
			continue
		}
		pack := v.packForSync()
		if pack.ServerID == 0 {
			stop = true
		}
		batch.Vineyards = append(batch.Vineyards, pack)
		found++
	}
	// One category at a time: a freshly created vineyard must round-trip
	// and obtain its server id before any of its wines can be sent.
	if !stop {
		for _, w := range s.wines {
			if found >= MaxBatchSize {
				break
			}
			if w == nil || !w.dirty.IsDirty() {
				continue
			}
			pack := w.packForSync()
			if pack.VineyardID == 0 {
				s.logger.Error().Int64("local_id", int64(w.localID)).Msg("bug: dirty wine with unresolved vineyard server id")
				return nil
			}
			if pack.ServerID == 0 {
				stop = true
			}
			batch.Wines = append(batch.Wines, pack)
			found++
		}
	}
	if !stop {
		for _, y := range s.years {
			if found >= MaxBatchSize {
				break
			}
			if y == nil || !y.dirty.IsDirty() {
				continue
			}
			// This is the one scan that must not skip soft-deleted years:
			// the deletion itself has to reach the server.
			pack := y.packForSync()
			if pack.WineID == 0 {
				s.logger.Error().Int64("local_id", int64(y.localID)).Msg("bug: dirty year with unresolved wine server id")
				return nil
			}
			if pack.ServerID == 0 {
				stop = true
			}
			batch.Years = append(batch.Years, pack)
			found++
		}
	}
	if !stop {
		for _, l := range s.log {
			if found >= MaxBatchSize {
				break
			}
			if l == nil || !l.dirty.IsDirty() {
				continue
			}
			pack := l.packForSync()
			if pack.YearID == 0 {
				s.logger.Error().Int64("local_id", int64(l.localID)).Msg("bug: dirty log entry with unresolved year server id")
				return nil
			}
			batch.Log = append(batch.Log, pack)
			found++
		}
	}

	if found < MaxBatchSize {
		if !stop {
			s.globalDirty = false
		}
		if found == 0 {
			return nil
		}
	}
	return batch
}

// PackAll packs every record regardless of dirty state, for push-everything
// recovery. Returns nil if an unresolved parent id makes the batch invalid.
func (s *Store) PackAll() *types.Batch {
	batch := &types.Batch{}
	for _, v := range s.vineyards {
		if v == nil {
			continue
		}
		batch.Vineyards = append(batch.Vineyards, v.packForSync())
	}
	for _, w := range s.wines {
		if w == nil {
			continue
		}
		pack := w.packForSync()
		if pack.VineyardID == 0 {
			s.logger.Error().Int64("local_id", int64(w.localID)).Msg("bug: wine with unresolved vineyard server id")
			return nil
		}
		batch.Wines = append(batch.Wines, pack)
	}
	for _, y := range s.years {
		if y == nil {
			continue
		}
		pack := y.packForSync()
		if pack.WineID == 0 {
			s.logger.Error().Int64("local_id", int64(y.localID)).Msg("bug: year with unresolved wine server id")
			return nil
		}
		batch.Years = append(batch.Years, pack)
	}
	for _, l := range s.log {
		if l == nil {
			continue
		}
		pack := l.packForSync()
		if pack.YearID == 0 {
			s.logger.Error().Int64("local_id", int64(l.localID)).Msg("bug: log entry with unresolved year server id")
			return nil
		}
		batch.Log = append(batch.Log, pack)
	}
	return batch
}

// PackResend packs exactly the records whose server ids the server asked to
// see again.
func (s *Store) PackResend(resend *types.Resend) *types.Batch {
	batch := &types.Batch{}
	if len(resend.Vineyards) > 0 {
		wanted := serverIDSet(resend.Vineyards)
		for _, v := range s.vineyards {
			if v == nil || v.data.ServerID == 0 {
				continue
			}
			if _, ok := wanted[v.data.ServerID]; ok {
				batch.Vineyards = append(batch.Vineyards, v.packForSync())
			}
		}
	}
	if len(resend.Wines) > 0 {
		wanted := serverIDSet(resend.Wines)
		for _, w := range s.wines {
			if w == nil || w.data.ServerID == 0 {
				continue
			}
			if _, ok := wanted[w.data.ServerID]; ok {
				batch.Wines = append(batch.Wines, w.packForSync())
			}
		}
	}
	if len(resend.Years) > 0 {
		wanted := serverIDSet(resend.Years)
		for _, y := range s.years {
			if y == nil || y.data.ServerID == 0 {
				continue
			}
			if _, ok := wanted[y.data.ServerID]; ok {
				batch.Years = append(batch.Years, y.packForSync())
			}
		}
	}
	if len(resend.Log) > 0 {
		wanted := serverIDSet(resend.Log)
		for _, l := range s.log {
			if l == nil || l.data.ServerID == 0 {
				continue
			}
			if _, ok := wanted[l.data.ServerID]; ok {
				batch.Log = append(batch.Log, l.packForSync())
			}
		}
	}
	return batch
}

func serverIDSet(ids []types.ServerID) map[types.ServerID]struct{} {
	set := make(map[types.ServerID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ApplyReceipts binds server ids to the receipted local records and clears
// their pending bits. Reports whether any receipt was processed.
func (s *Store) ApplyReceipts(receipts *types.Receipts) bool {
	if receipts == nil {
		return false
	}
	had := false
	for _, r := range receipts.Vineyards {
		v := s.vineyardAt(r.LocalID)
		if v == nil {
			panic("bug: receipt for unknown vineyard")
		}
		if v.data.ServerID == 0 {
			s.vineyardsByServerID[r.ServerID] = v
		}
		v.markSyncDone(r.ServerID)
		had = true
	}
	for _, r := range receipts.Wines {
		w := s.wineAt(r.LocalID)
		if w == nil {
			panic("bug: receipt for unknown wine")
		}
		if w.data.ServerID == 0 {
			s.winesByServerID[r.ServerID] = w
		}
		w.markSyncDone(r.ServerID)
		had = true
	}
	for _, r := range receipts.Years {
		y := s.yearAt(r.LocalID)
		if y == nil {
			panic("bug: receipt for unknown year")
		}
		if y.data.ServerID == 0 {
			s.yearsByServerID[r.ServerID] = y
		}
		y.markSyncDone(r.ServerID)
		had = true
	}
	for _, r := range receipts.Log {
		l := s.logAt(r.LocalID)
		if l == nil {
			panic("bug: receipt for unknown log entry")
		}
		if l.data.ServerID == 0 {
			s.logByServerID[r.ServerID] = l
		}
		l.markSyncDone(r.ServerID)
		had = true
	}
	return had
}

// ApplyData merges inbound server records, parents before children. Records
// matching a known server id receive field updates unless the local copy is
// dirty; unknown ones are created fresh without log side effects. Children
// whose parent the store does not know yet are skipped with a warning.
// Reports whether the server's commit counter advanced.
func (s *Store) ApplyData(resp *types.SyncResponse) bool {
	if len(resp.Vineyards) > 0 {
		added := false
		for _, in := range resp.Vineyards {
			if existing, ok := s.vineyardsByServerID[in.ServerID]; ok {
				existing.applyServerUpdate(in)
			} else {
				in.LocalID = 0
				s.createVineyard(in, types.Clean, false)
				added = true
			}
		}
		if added {
			s.persistNextVineyardID()
		}
	}
	if len(resp.Wines) > 0 {
		added := false
		for _, in := range resp.Wines {
			parent, ok := s.vineyardsByServerID[in.VineyardID]
			if !ok {
				s.logger.Warn().Int64("server_id", int64(in.ServerID)).Int64("vineyard_id", int64(in.VineyardID)).Msg("server sent a wine for an unknown vineyard, skipping")
				continue
			}
			if existing, ok := s.winesByServerID[in.ServerID]; ok {
				existing.applyServerUpdate(in)
			} else {
				in.LocalID = 0
				s.createWine(in, types.Clean, parent.localID, false)
				added = true
			}
		}
		if added {
			s.persistNextWineID()
		}
	}
	if len(resp.Years) > 0 {
		added := false
		for _, in := range resp.Years {
			parent, ok := s.winesByServerID[in.WineID]
			if !ok {
				s.logger.Warn().Int64("server_id", int64(in.ServerID)).Int64("wine_id", int64(in.WineID)).Msg("server sent a year for an unknown wine, skipping")
				continue
			}
			if existing, ok := s.yearsByServerID[in.ServerID]; ok {
				existing.applyServerUpdate(in)
			} else {
				in.LocalID = 0
				s.createYear(in, types.Clean, parent.localID, false)
				added = true
			}
		}
		if added {
			s.persistNextYearID()
		}
	}
	if len(resp.Log) > 0 {
		added := false
		for _, in := range resp.Log {
			parent, ok := s.yearsByServerID[in.YearID]
			if !ok {
				s.logger.Warn().Int64("server_id", int64(in.ServerID)).Int64("year_id", int64(in.YearID)).Msg("server sent a log entry for an unknown year, skipping")
				continue
			}
			if existing, ok := s.logByServerID[in.ServerID]; ok {
				existing.applyServerUpdate(in)
			} else {
				in.LocalID = 0
				s.createLog(in, types.Clean, parent.localID, false)
				added = true
			}
		}
		if added {
			s.persistNextLogID()
		}
	}

	if resp.Commit != s.lastServerCommit {
		s.SetLastServerCommit(resp.Commit)
		return true
	}
	return false
}

// applyServerUpdate copies the mutable fields from a server record onto the
// local one, unless a local edit is still unsynced. Identity fields must
// agree; a contradiction means the sync sequence is corrupted.
func (v *Vineyard) applyServerUpdate(in types.Vineyard) {
	assertSameID("vineyard server_id", int64(v.data.ServerID), int64(in.ServerID))
	if v.dirty.IsDirty() {
		return
	}
	changed := v.data.Name != in.Name || v.data.Region != in.Region ||
		v.data.Country != in.Country || v.data.Website != in.Website ||
		v.data.Address != in.Address || v.data.Comment != in.Comment ||
		v.data.Deleted != in.Deleted
	if !changed {
		return
	}
	if v.data.Name != in.Name {
		delete(v.store.vineyardsByName, v.data.Name)
		v.store.vineyardsByName[in.Name] = v
	}
	v.data.Name = in.Name
	v.data.Region = in.Region
	v.data.Country = in.Country
	v.data.Website = in.Website
	v.data.Address = in.Address
	v.data.Comment = in.Comment
	v.data.Deleted = in.Deleted
	v.store.geo.insertPair(in.Country, in.Region)
	v.changedNoDirtyMark()
}

func (w *Wine) applyServerUpdate(in types.Wine) {
	assertSameID("wine server_id", int64(w.data.ServerID), int64(in.ServerID))
	if w.data.VineyardID != 0 {
		assertSameID("wine vineyard_id", int64(w.data.VineyardID), int64(in.VineyardID))
	}
	if w.dirty.IsDirty() {
		return
	}
	changed := w.data.Name != in.Name || w.data.Grape != in.Grape ||
		w.data.Comment != in.Comment || w.data.Deleted != in.Deleted
	if !changed {
		return
	}
	if w.data.Name != in.Name {
		delete(w.vineyard.winesByName, w.data.Name)
		w.vineyard.winesByName[in.Name] = w
	}
	w.data.Name = in.Name
	w.data.Grape = in.Grape
	w.data.Comment = in.Comment
	w.data.Deleted = in.Deleted
	w.store.grapes.update(in.Grape)
	w.changedNoDirtyMark()
}

func (y *Year) applyServerUpdate(in types.Year) {
	assertSameID("year server_id", int64(y.data.ServerID), int64(in.ServerID))
	if y.data.WineID != 0 {
		assertSameID("year wine_id", int64(y.data.WineID), int64(in.WineID))
	}
	assertSameID("year number", int64(y.data.Year), int64(in.Year))
	if y.dirty.IsDirty() {
		return
	}
	oldCount := y.data.Count
	oldPrice := y.data.Price
	changed := y.data.Count != in.Count || y.data.Stock != in.Stock ||
		y.data.Price != in.Price || y.data.Rating != in.Rating ||
		y.data.Value != in.Value || y.data.Sweetness != in.Sweetness ||
		y.data.Age != in.Age || y.data.Location != in.Location ||
		y.data.Comment != in.Comment
	if !changed {
		return
	}
	y.data.Count = in.Count
	y.data.Stock = in.Stock
	y.data.Price = in.Price
	y.data.Rating = in.Rating
	y.data.Value = in.Value
	y.data.Sweetness = in.Sweetness
	y.data.Age = in.Age
	y.data.Location = in.Location
	y.data.Comment = in.Comment
	y.changedNoDirtyMark()

	// Soft-deleted counts are clamped so a remote deletion doesn't drag the
	// totals below the real inventory.
	effective := func(c int) int {
		if c < 0 {
			return 0
		}
		return c
	}
	priceDelta := float64(effective(y.data.Count))*y.data.Price - float64(effective(oldCount))*oldPrice
	countDelta := effective(y.data.Count) - effective(oldCount)
	if priceDelta != 0 || countDelta != 0 {
		y.store.addTotals(priceDelta, countDelta)
	}
}

func (l *Log) applyServerUpdate(in types.Log) {
	assertSameID("log server_id", int64(l.data.ServerID), int64(in.ServerID))
	if l.data.YearID != 0 {
		assertSameID("log year_id", int64(l.data.YearID), int64(in.YearID))
	}
	if l.data.Date != in.Date {
		panic("bug: log date must match, was " + l.data.Date + ", is " + in.Date)
	}
	if l.dirty.IsDirty() {
		return
	}
	changed := l.data.Delta != in.Delta || l.data.Reason != in.Reason ||
		l.data.Comment != in.Comment
	if !changed {
		return
	}
	l.data.Delta = in.Delta
	l.data.Reason = in.Reason
	l.data.Comment = in.Comment
	l.changedNoDirtyMark()
}

func assertSameID(what string, have, got int64) {
	if have != got {
		panic("bug: " + what + " must match")
	}
}
