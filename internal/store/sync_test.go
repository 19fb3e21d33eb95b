package store

import (
	"fmt"
	"testing"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

func TestFindWorkWithholdsChildrenOfUnsentParents(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	w := s.GetOrCreateWine(v, "Red")
	s.GetOrCreateYear(w, 2020, 3, 0, "", "")

	batch := s.FindWork()
	if batch == nil {
		t.Fatalf("expected work")
	}
	if len(batch.Vineyards) != 1 || batch.Vineyards[0].Name != "Acme" {
		t.Fatalf("expected only the vineyard, got %+v", batch)
	}
	if len(batch.Wines) != 0 || len(batch.Years) != 0 || len(batch.Log) != 0 {
		t.Fatalf("children of an unsent parent must be withheld, got %+v", batch)
	}
	if !s.IsGlobalDirty() {
		t.Fatalf("global dirty bit must survive a stopped scan")
	}

	// The receipt unblocks the wine on the next scan.
	s.ApplyReceipts(&types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 7}}})
	if v.ServerID() != 7 {
		t.Fatalf("receipt must bind server id, got %d", v.ServerID())
	}

	batch = s.FindWork()
	if batch == nil || len(batch.Wines) != 1 {
		t.Fatalf("expected the wine after the parent receipt, got %+v", batch)
	}
	if got := batch.Wines[0].VineyardID; got != 7 {
		t.Fatalf("wine must carry the parent's server id, got %d", got)
	}
	if len(batch.Vineyards) != 0 {
		t.Fatalf("clean vineyard must not be re-sent, got %+v", batch.Vineyards)
	}
	if len(batch.Years) != 0 {
		t.Fatalf("year must wait for the wine's receipt, got %+v", batch.Years)
	}
}

func TestFindWorkReturnsNilWhenClean(t *testing.T) {
	s := newTestStore()
	if got := s.FindWork(); got != nil {
		t.Fatalf("clean store must yield no work, got %+v", got)
	}
}

func TestFindWorkPacksResolvedRecordsTogether(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	w := s.GetOrCreateWine(v, "Red")
	y := s.GetOrCreateYear(w, 2020, 3, 0, "", "")

	// Round-trip everything once.
	batch := s.FindWork()
	s.ApplyReceipts(&types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 1}}})
	batch = s.FindWork()
	s.ApplyReceipts(&types.Receipts{Wines: []types.Receipt{{LocalID: w.LocalID(), ServerID: 2}}})
	batch = s.FindWork()
	if len(batch.Years) != 1 {
		t.Fatalf("expected the year, got %+v", batch)
	}
	s.ApplyReceipts(&types.Receipts{Years: []types.Receipt{{LocalID: y.LocalID(), ServerID: 3}}})
	batch = s.FindWork()
	if batch == nil || len(batch.Log) != 1 {
		t.Fatalf("expected the log entry, got %+v", batch)
	}
	s.ApplyReceipts(&types.Receipts{Log: []types.Receipt{{LocalID: types.LocalID(1), ServerID: 4}}})
	if s.FindWork() != nil {
		t.Fatalf("store must be clean after full round trip")
	}
	if s.IsGlobalDirty() {
		t.Fatalf("global dirty bit must clear after complete scan")
	}

	// Subsequent edits on fully resolved records travel in one batch.
	w.SaveEdits("Red", "Merlot", "")
	y.Increment()
	batch = s.FindWork()
	if len(batch.Wines) != 1 || len(batch.Years) != 1 || len(batch.Log) != 1 {
		t.Fatalf("resolved records must pack together, got %+v", batch)
	}
	if s.IsGlobalDirty() {
		t.Fatalf("a full uncapped scan must clear the global dirty bit")
	}
}

func TestFindWorkRespectsBatchCap(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	s.FindWork()
	s.ApplyReceipts(&types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 1}}})
	for i := 0; i < MaxBatchSize+20; i++ {
		s.GetOrCreateWine(v, fmt.Sprintf("Wine %03d", i))
	}

	batch := s.FindWork()
	if got := batch.Size(); got != MaxBatchSize {
		t.Fatalf("expected %d records, got %d", MaxBatchSize, got)
	}
	if !s.IsGlobalDirty() {
		t.Fatalf("capped scan must leave the global dirty bit set")
	}
	receiptsFor := func(b *types.Batch) {
		var rs types.Receipts
		for _, w := range b.Wines {
			rs.Wines = append(rs.Wines, types.Receipt{LocalID: w.LocalID, ServerID: types.ServerID(100 + w.LocalID)})
		}
		s.ApplyReceipts(&rs)
	}
	receiptsFor(batch)

	batch = s.FindWork()
	if got := batch.Size(); got != 20 {
		t.Fatalf("expected 20 leftover records, got %d", got)
	}
	if !s.IsGlobalDirty() {
		t.Fatalf("unresolved wines keep the global dirty bit set")
	}
	receiptsFor(batch)

	if s.FindWork() != nil {
		t.Fatalf("expected no further work")
	}
	if s.IsGlobalDirty() {
		t.Fatalf("global dirty bit must clear after the final empty scan")
	}
}

func TestPackForSyncMarksPending(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	s.FindWork()
	if v.dirty != types.SyncPending {
		t.Fatalf("packing must flip dirty to pending, got %d", v.dirty)
	}

	// An edit while the upload is in flight keeps the record eligible.
	v.SaveEdits("Acme", "France", "", "", "", "")
	s.ApplyReceipts(&types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 5}}})
	if !v.IsDirty() {
		t.Fatalf("mid-flight edit must survive the receipt")
	}
}

func TestApplyDataCreatesHierarchy(t *testing.T) {
	s := newTestStore()
	changed := s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme", Country: "France"}},
		Wines:     []types.Wine{{ServerID: 2, VineyardID: 1, Name: "Red", Grape: "Merlot"}},
		Years:     []types.Year{{ServerID: 3, WineID: 2, Year: 2020, Count: 6, Price: 8}},
		Log:       []types.Log{{ServerID: 4, YearID: 3, Date: "2026-08-31", Delta: 6, Reason: types.ReasonBought}},
		Commit:    12,
	})
	if !changed {
		t.Fatalf("commit advance must report data received")
	}
	if s.LastServerCommit() != 12 {
		t.Fatalf("commit cursor must persist, got %d", s.LastServerCommit())
	}
	if s.IsGlobalDirty() {
		t.Fatalf("server data must arrive clean")
	}
	v := s.VineyardByName("Acme")
	if v == nil || v.ServerID() != 1 {
		t.Fatalf("vineyard not created from server data")
	}
	y := s.yearsByServerID[3]
	if y == nil || y.Data().Count != 6 {
		t.Fatalf("year not created from server data")
	}
	if y.LogOn("2026-08-31") == nil {
		t.Fatalf("log entry not linked to its year")
	}
	if s.TotalCount() != 6 || s.TotalValue() != 48 {
		t.Fatalf("totals must include server data, got (%d, %v)", s.TotalCount(), s.TotalValue())
	}
}

func TestApplyDataSkipsOrphans(t *testing.T) {
	s := newTestStore()
	changed := s.ApplyData(&types.SyncResponse{
		Wines:  []types.Wine{{ServerID: 2, VineyardID: 99, Name: "Orphan"}},
		Commit: 1,
	})
	if !changed {
		t.Fatalf("commit still advances on orphan-only payloads")
	}
	if len(s.winesByServerID) != 0 {
		t.Fatalf("orphan wine must be skipped")
	}
}

func TestApplyDataDoesNotClobberDirtyRecords(t *testing.T) {
	s := newTestStore()
	s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme", Country: "France"}},
		Commit:    1,
	})
	v := s.VineyardByName("Acme")
	v.SaveEdits("Acme", "France", "Bordeaux", "", "", "local edit")

	s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme", Country: "Spain", Comment: "stale"}},
		Commit:    2,
	})
	if got := v.Data().Country; got != "France" {
		t.Fatalf("dirty record must keep local edit, got %q", got)
	}
	if got := v.Data().Comment; got != "local edit" {
		t.Fatalf("dirty record must keep local comment, got %q", got)
	}

	// Once the edit was uploaded and acknowledged, server updates flow again.
	s.FindWork()
	s.ApplyReceipts(&types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 1}}})
	s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme", Country: "Spain", Region: "Rioja", Comment: "fresh"}},
		Commit:    3,
	})
	if got := v.Data().Country; got != "Spain" {
		t.Fatalf("clean record must accept server update, got %q", got)
	}
}

func TestPackResendMatchesByServerID(t *testing.T) {
	s := newTestStore()
	s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme"}},
		Wines: []types.Wine{
			{ServerID: 2, VineyardID: 1, Name: "Red"},
			{ServerID: 3, VineyardID: 1, Name: "White"},
		},
		Commit: 1,
	})

	batch := s.PackResend(&types.Resend{Wines: []types.ServerID{3}})
	if len(batch.Wines) != 1 || batch.Wines[0].ServerID != 3 {
		t.Fatalf("expected exactly wine 3, got %+v", batch.Wines)
	}
	if batch.Wines[0].VineyardID != 1 {
		t.Fatalf("resent wine must carry parent server id, got %d", batch.Wines[0].VineyardID)
	}
}

func TestPackAllIgnoresDirtyState(t *testing.T) {
	s := newTestStore()
	s.ApplyData(&types.SyncResponse{
		Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme"}},
		Wines:     []types.Wine{{ServerID: 2, VineyardID: 1, Name: "Red"}},
		Commit:    1,
	})
	batch := s.PackAll()
	if len(batch.Vineyards) != 1 || len(batch.Wines) != 1 {
		t.Fatalf("push-all must include clean records, got %+v", batch)
	}
}

func TestFindWorkCarriesExtraBackupFlag(t *testing.T) {
	s := newTestStore()
	s.GetOrCreateVineyard("Acme")
	s.RequestExtraBackup()
	batch := s.FindWork()
	if !batch.ExtraBackup {
		t.Fatalf("extra backup request must ride along with the next upload")
	}
	s.GetOrCreateVineyard("Other")
	if s.FindWork().ExtraBackup {
		t.Fatalf("extra backup flag must be one-shot")
	}
}
