package store

import "testing"

func TestMergeWinesAdoptsEmptyFields(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	into := s.GetOrCreateWine(v, "Alpha")
	from := s.GetOrCreateWine(v, "Beta")
	from.SaveEdits("Beta", "Merlot", "from the back shelf")

	if got := s.MergeWines(into, from); got != MergeOK {
		t.Fatalf("expected clean merge, got %v", got)
	}
	if into.Data().Grape != "Merlot" {
		t.Fatalf("empty grape must adopt the absorbed value, got %q", into.Data().Grape)
	}
	if into.Data().Comment != "from the back shelf" {
		t.Fatalf("empty comment must adopt the absorbed value, got %q", into.Data().Comment)
	}
	if !from.IsDeleted() {
		t.Fatalf("absorbed wine must be tombstoned")
	}
}

func TestMergeWinesGrapeConflictTouchesNothing(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	into := s.GetOrCreateWine(v, "Alpha")
	into.SaveEdits("Alpha", "Riesling", "")
	from := s.GetOrCreateWine(v, "Beta")
	from.SaveEdits("Beta", "Merlot", "")
	s.GetOrCreateYear(from, 2020, 3, 0, "", "")

	if got := s.MergeWines(into, from); got != MergeGrapeConflict {
		t.Fatalf("expected grape conflict, got %v", got)
	}
	if into.Data().Grape != "Riesling" {
		t.Fatalf("survivor must be untouched on conflict, got %q", into.Data().Grape)
	}
	if from.IsDeleted() {
		t.Fatalf("absorbed wine must survive a conflict")
	}
	if !from.HasYear(2020) {
		t.Fatalf("vintages must stay with the absorbed wine on conflict")
	}
}

func TestMergeWinesVintageConflictKeepsBothVintages(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	into := s.GetOrCreateWine(v, "Alpha")
	from := s.GetOrCreateWine(v, "Beta")
	yi := s.GetOrCreateYear(into, 2020, 1, 0, "", "")
	yf := s.GetOrCreateYear(from, 2020, 1, 0, "", "")
	yi.SetRating(3)
	yf.SetRating(5)

	if got := s.MergeWines(into, from); got != MergeYearConflict {
		t.Fatalf("expected vintage conflict, got %v", got)
	}
	if yi.Data().Rating != 3 || yf.Data().Rating != 5 {
		t.Fatalf("conflicting vintages must be untouched, got %d and %d", yi.Data().Rating, yf.Data().Rating)
	}
	if yf.IsDeleted() {
		t.Fatalf("conflicting vintage must not be tombstoned")
	}
	if from.IsDeleted() {
		t.Fatalf("wine with a surviving vintage must not be tombstoned")
	}
}

func TestMergeWinesMovesVintagesToSurvivor(t *testing.T) {
	s := newTestStore()
	v := s.GetOrCreateVineyard("Acme")
	into := s.GetOrCreateWine(v, "Alpha")
	from := s.GetOrCreateWine(v, "Beta")
	s.GetOrCreateYear(from, 2019, 6, 9, "", "cellar row 2")

	if got := s.MergeWines(into, from); got != MergeOK {
		t.Fatalf("expected clean merge, got %v", got)
	}
	if !into.HasYear(2019) {
		t.Fatalf("vintage must move to the survivor")
	}
	var moved *Year
	into.EachYear(func(y *Year) {
		if y.Data().Year == 2019 {
			moved = y
		}
	})
	if moved == nil || moved.Data().Count != 6 || moved.Data().Price != 9 {
		t.Fatalf("moved vintage lost its data: %+v", moved)
	}
	if s.TotalCount() != 6 {
		t.Fatalf("totals must be unchanged by a move, got %d", s.TotalCount())
	}
	if !from.IsDeleted() {
		t.Fatalf("emptied wine must be tombstoned")
	}
}

func TestMergeVineyardsCascades(t *testing.T) {
	s := newTestStore()
	into := s.GetOrCreateVineyard("Acme")
	from := s.GetOrCreateVineyard("Acme Estate")
	from.SaveEdits("Acme Estate", "France", "Bordeaux", "", "", "")
	shared := s.GetOrCreateWine(into, "Red")
	old := s.GetOrCreateWine(from, "Red")
	old.SaveEdits("Red", "Merlot", "")
	s.GetOrCreateWine(from, "White")

	if got := s.MergeVineyards(into, from); got != MergeOK {
		t.Fatalf("expected clean merge, got %v", got)
	}
	if into.Data().Country != "France" || into.Data().Region != "Bordeaux" {
		t.Fatalf("empty fields must adopt absorbed values, got %+v", into.Data())
	}
	if shared.Data().Grape != "Merlot" {
		t.Fatalf("same-name wines must field-merge, got %q", shared.Data().Grape)
	}
	names := into.WineNames()
	if len(names) != 2 || names[0] != "Red" || names[1] != "White" {
		t.Fatalf("unmatched wines must move over, got %v", names)
	}
	if !from.IsDeleted() {
		t.Fatalf("emptied vineyard must be tombstoned")
	}
	if s.VineyardByName("Acme Estate") != nil {
		t.Fatalf("tombstone must free the name for reuse")
	}
}

func TestMergeVineyardsFieldConflictAbortsBeforeWines(t *testing.T) {
	s := newTestStore()
	into := s.GetOrCreateVineyard("Acme")
	into.SaveEdits("Acme", "France", "", "", "", "")
	from := s.GetOrCreateVineyard("Acme Estate")
	from.SaveEdits("Acme Estate", "Spain", "", "", "", "")
	s.GetOrCreateWine(from, "Red")

	if got := s.MergeVineyards(into, from); got != MergeCountryConflict {
		t.Fatalf("expected country conflict, got %v", got)
	}
	if from.IsDeleted() {
		t.Fatalf("absorbed vineyard must survive a conflict")
	}
	if len(into.WineNames()) != 0 {
		t.Fatalf("no wines may move on a top-level conflict, got %v", into.WineNames())
	}
}
