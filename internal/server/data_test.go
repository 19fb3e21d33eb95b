package server

import (
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

func newTestData() *Data {
	return NewData(zerolog.New(io.Discard))
}

func TestSetAllAssignsIdsAndReceipts(t *testing.T) {
	d := newTestData()
	resp, changes := d.SetAll(&types.Batch{
		Vineyards: []types.Vineyard{{LocalID: 5, Name: "Acme"}},
	})
	if resp.Commit != 1 {
		t.Fatalf("first push must land at commit 1, got %d", resp.Commit)
	}
	if resp.Receipts == nil || len(resp.Receipts.Vineyards) != 1 {
		t.Fatalf("expected one receipt, got %+v", resp.Receipts)
	}
	r := resp.Receipts.Vineyards[0]
	if r.LocalID != 5 || r.ServerID != 1 {
		t.Fatalf("receipt must echo the local id with the new server id, got %+v", r)
	}
	if len(changes.Vineyards) != 1 || changes.Vineyards[0].Stamp != 1 {
		t.Fatalf("change set must carry the stamped record, got %+v", changes.Vineyards)
	}
	if changes.Vineyards[0].Record.LocalID != 0 {
		t.Fatalf("stored records must not keep client-local ids")
	}
}

func TestCommitAdvancesOncePerPush(t *testing.T) {
	d := newTestData()
	resp, _ := d.SetAll(&types.Batch{
		Vineyards: []types.Vineyard{{LocalID: 1, Name: "Acme"}, {LocalID: 2, Name: "Bravo"}},
		Wines:     []types.Wine{{LocalID: 1, VineyardID: 0, Name: "Red"}},
	})
	if resp.Commit != 1 {
		t.Fatalf("one push must advance the counter once, got %d", resp.Commit)
	}

	all := d.GetAll(0)
	if len(all.Vineyards) != 2 || len(all.Wines) != 1 {
		t.Fatalf("expected 2 vineyards and 1 wine, got %+v", all)
	}
	if d.GetAll(1).HasData() {
		t.Fatalf("nothing changed after commit 1")
	}
}

func TestNaturalKeyDeduplicatesInserts(t *testing.T) {
	d := newTestData()
	first, _ := d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 1, Name: "Acme"}}})
	second, _ := d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 9, Name: "Acme", Country: "France"}}})

	if first.Receipts.Vineyards[0].ServerID != second.Receipts.Vineyards[0].ServerID {
		t.Fatalf("same name must map to the same record")
	}
	all := d.GetAll(0)
	if len(all.Vineyards) != 1 || all.Vineyards[0].Country != "France" {
		t.Fatalf("second push must update in place, got %+v", all.Vineyards)
	}

	// Same wine name under a different vineyard is a different wine.
	d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 2, Name: "Bravo"}}})
	d.SetAll(&types.Batch{Wines: []types.Wine{{LocalID: 1, VineyardID: 1, Name: "Red"}}})
	resp, _ := d.SetAll(&types.Batch{Wines: []types.Wine{{LocalID: 2, VineyardID: 2, Name: "Red"}}})
	if resp.Receipts.Wines[0].ServerID != 2 {
		t.Fatalf("same name under another vineyard must insert, got %+v", resp.Receipts.Wines)
	}
}

func TestGetAllSinceFiltersByStamp(t *testing.T) {
	d := newTestData()
	d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 1, Name: "Acme"}}})
	d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 2, Name: "Bravo"}}})
	d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme", Comment: "edited"}}})

	resp := d.GetAll(2)
	if len(resp.Vineyards) != 1 || resp.Vineyards[0].Comment != "edited" {
		t.Fatalf("expected only the re-stamped record, got %+v", resp.Vineyards)
	}
	if resp.Commit != 3 {
		t.Fatalf("commit cursor must be 3, got %d", resp.Commit)
	}
}

func TestArchiveRoundTripKeepsIdsAndCommit(t *testing.T) {
	d := newTestData()
	d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{LocalID: 1, Name: "Acme"}}})
	d.SetAll(&types.Batch{Wines: []types.Wine{{LocalID: 1, VineyardID: 1, Name: "Red"}}})

	restored := NewDataFromArchive(zerolog.New(io.Discard), d.Export())
	if restored.UUID() != d.UUID() {
		t.Fatalf("identity must survive a restore")
	}
	if restored.Commit() != d.Commit() {
		t.Fatalf("commit counter must be recovered from stamps, got %d want %d", restored.Commit(), d.Commit())
	}
	all := restored.GetAll(0)
	if len(all.Vineyards) != 1 || all.Vineyards[0].ServerID != 1 {
		t.Fatalf("restored vineyard lost its id: %+v", all.Vineyards)
	}
	if len(all.Wines) != 1 || all.Wines[0].VineyardID != 1 {
		t.Fatalf("restored wine lost its parent: %+v", all.Wines)
	}
}

func TestMissingParentTriggersResend(t *testing.T) {
	d := newTestData()
	resp, _ := d.SetAll(&types.Batch{Wines: []types.Wine{{LocalID: 1, VineyardID: 7, Name: "Orphan"}}})
	if resp.Resend == nil || len(resp.Resend.Vineyards) != 1 || resp.Resend.Vineyards[0] != 7 {
		t.Fatalf("expected a resend request for vineyard 7, got %+v", resp.Resend)
	}

	// The client resends the vineyard under its remembered id; the request
	// clears.
	resp, _ = d.SetAll(&types.Batch{Vineyards: []types.Vineyard{{ServerID: 7, Name: "Acme"}}})
	if resp.Resend != nil {
		t.Fatalf("satisfied resend must clear, got %+v", resp.Resend)
	}
	all := d.GetAll(0)
	if len(all.Vineyards) != 1 || all.Vineyards[0].ServerID != 7 {
		t.Fatalf("re-adopted vineyard must keep its old id, got %+v", all.Vineyards)
	}
}

func TestRestoreDetectsOrphans(t *testing.T) {
	arch := &Archive{
		UUID:  "db-1",
		Wines: []StampedWine{{Record: types.Wine{ServerID: 3, VineyardID: 2, Name: "Red"}, Stamp: 4}},
	}
	d := NewDataFromArchive(zerolog.New(io.Discard), arch)
	resp := d.GetAll(0)
	if resp.Resend == nil || len(resp.Resend.Vineyards) != 1 || resp.Resend.Vineyards[0] != 2 {
		t.Fatalf("restore must queue resend for missing parents, got %+v", resp.Resend)
	}
}
