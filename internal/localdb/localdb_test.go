package localdb

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "cellar.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRoundTrip(t *testing.T) {
	d := openTestDB(t)

	if err := d.PutVineyard(1, store.VineyardRow{
		Data:  types.Vineyard{ServerID: 10, Name: "Acme", Country: "France", Region: "Bordeaux"},
		Dirty: types.Clean,
	}); err != nil {
		t.Fatalf("PutVineyard: %v", err)
	}
	if err := d.PutWine(1, store.WineRow{
		Data:     types.Wine{Name: "Red", Grape: "Merlot"},
		Dirty:    types.Dirty,
		Vineyard: 1,
	}); err != nil {
		t.Fatalf("PutWine: %v", err)
	}
	if err := d.PutYear(1, store.YearRow{
		Data:  types.Year{Year: 2019, Count: 6, Price: 8.5, Rating: 4, Location: "rack 3"},
		Dirty: types.Dirty,
		Wine:  1,
	}); err != nil {
		t.Fatalf("PutYear: %v", err)
	}
	if err := d.PutLog(1, store.LogRow{
		Data:  types.Log{Date: "2026-08-30", Delta: 6, Reason: types.ReasonBought},
		Dirty: types.Dirty,
		Year:  1,
	}); err != nil {
		t.Fatalf("PutLog: %v", err)
	}
	if err := d.PutMeta(store.MetaNextWineID, "2"); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := d.PutMeta(store.MetaLastServerCommit, "17"); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := d.PutMeta(store.MetaServerUUID, "abc-123"); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	snap, err := d.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, ok := snap.Vineyards[1]
	if !ok || v.Data.Name != "Acme" || v.Data.ServerID != 10 {
		t.Fatalf("vineyard row: %+v", v)
	}
	w, ok := snap.Wines[1]
	if !ok || w.Vineyard != 1 || w.Dirty != types.Dirty {
		t.Fatalf("wine row: %+v", w)
	}
	if w.Data.VineyardID != 10 {
		t.Fatalf("wine must recover the parent server id, got %d", w.Data.VineyardID)
	}
	y, ok := snap.Years[1]
	if !ok || y.Data.Count != 6 || y.Data.Price != 8.5 || y.Data.Location != "rack 3" {
		t.Fatalf("year row: %+v", y)
	}
	l, ok := snap.Log[1]
	if !ok || l.Data.Reason != types.ReasonBought || l.Data.Delta != 6 {
		t.Fatalf("log row: %+v", l)
	}
	if snap.NextWineID != 2 || snap.NextVineyardID != 1 {
		t.Fatalf("id counters: %+v", snap)
	}
	if snap.LastServerCommit != 17 || snap.ServerUUID != "abc-123" {
		t.Fatalf("meta: commit=%d uuid=%q", snap.LastServerCommit, snap.ServerUUID)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	d := openTestDB(t)

	row := store.VineyardRow{Data: types.Vineyard{Name: "Acme"}, Dirty: types.Dirty}
	if err := d.PutVineyard(1, row); err != nil {
		t.Fatalf("PutVineyard: %v", err)
	}
	row.Data.ServerID = 42
	row.Data.Comment = "updated"
	row.Dirty = types.Clean
	if err := d.PutVineyard(1, row); err != nil {
		t.Fatalf("PutVineyard update: %v", err)
	}

	snap, err := d.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Vineyards) != 1 {
		t.Fatalf("expected one row, got %d", len(snap.Vineyards))
	}
	got := snap.Vineyards[1]
	if got.Data.ServerID != 42 || got.Data.Comment != "updated" || got.Dirty != types.Clean {
		t.Fatalf("upsert did not overwrite: %+v", got)
	}
}

func TestClearWipesEverything(t *testing.T) {
	d := openTestDB(t)

	if err := d.PutVineyard(1, store.VineyardRow{Data: types.Vineyard{Name: "Acme"}}); err != nil {
		t.Fatalf("PutVineyard: %v", err)
	}
	if err := d.PutMeta(store.MetaLastServerCommit, strconv.Itoa(99)); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := d.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap, err := d.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Vineyards) != 0 || snap.LastServerCommit != 0 {
		t.Fatalf("clear left data behind: %+v", snap)
	}
	if snap.NextVineyardID != 1 {
		t.Fatalf("counters must reset to 1, got %d", snap.NextVineyardID)
	}
}

func TestTombstoneSurvivesReload(t *testing.T) {
	d := openTestDB(t)

	// The wine's parent must exist first: foreign keys are enforced.
	if err := d.PutVineyard(1, store.VineyardRow{Data: types.Vineyard{ServerID: 2, Name: "Acme"}}); err != nil {
		t.Fatalf("PutVineyard: %v", err)
	}
	if err := d.PutWine(3, store.WineRow{
		Data:     types.Wine{ServerID: 5, Name: "Old Red", Deleted: true},
		Dirty:    types.Dirty,
		Vineyard: 1,
	}); err != nil {
		t.Fatalf("PutWine: %v", err)
	}
	snap, err := d.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Wines[3].Data.Deleted {
		t.Fatalf("tombstone flag lost on reload")
	}
}
