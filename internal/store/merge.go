package store

import "github.com/jakobkummerow/weinkeller-sub000/internal/types"

// MergeResult reports the outcome of absorbing one record into another.
// Anything but MergeOK names the field whose values disagreed; in that case
// the two records at that level were left untouched.
type MergeResult int

const (
	MergeOK MergeResult = iota
	MergeRegionConflict
	MergeCountryConflict
	MergeWebsiteConflict
	MergeAddressConflict
	MergeCommentConflict
	MergeGrapeConflict
	MergeYearConflict
)

func (m MergeResult) String() string {
	switch m {
	case MergeOK:
		return "ok"
	case MergeRegionConflict:
		return "region conflict"
	case MergeCountryConflict:
		return "country conflict"
	case MergeWebsiteConflict:
		return "website conflict"
	case MergeAddressConflict:
		return "address conflict"
	case MergeCommentConflict:
		return "comment conflict"
	case MergeGrapeConflict:
		return "grape conflict"
	case MergeYearConflict:
		return "vintage data conflict"
	default:
		return "unknown conflict"
	}
}

// MergeWines absorbs from into into, used when renaming a wine collides with
// an existing one. Scalar fields follow the empty/disagree rule: an empty
// surviving field adopts the absorbed value, two disagreeing non-empty
// values are a conflict and nothing at this level is committed. Vintages are
// absorbed recursively; from is only tombstoned once none of its vintages
// remain live.
func (s *Store) MergeWines(into, from *Wine) MergeResult {
	if into == from {
		return MergeOK
	}
	if into.data.Grape != "" && from.data.Grape != "" && into.data.Grape != from.data.Grape {
		return MergeGrapeConflict
	}
	if into.data.Comment != "" && from.data.Comment != "" && into.data.Comment != from.data.Comment {
		return MergeCommentConflict
	}

	changed := false
	if into.data.Grape == "" && from.data.Grape != "" {
		into.data.Grape = from.data.Grape
		s.grapes.update(into.data.Grape)
		changed = true
	}
	if into.data.Comment == "" && from.data.Comment != "" {
		into.data.Comment = from.data.Comment
		changed = true
	}
	if changed {
		into.changed()
		s.watch.GrapeNames.Notify()
	}

	result := MergeOK
	for _, y := range from.years {
		if y.data.Count < 0 {
			continue
		}
		if r := s.absorbYear(into, y); r != MergeOK && result == MergeOK {
			result = r
		}
	}

	if !s.hasLiveYears(from) {
		from.Delete()
	}
	return result
}

// MergeVineyards absorbs from into into after a vineyard rename collision.
// A top-level field conflict aborts before any wines are touched.
func (s *Store) MergeVineyards(into, from *Vineyard) MergeResult {
	if into == from {
		return MergeOK
	}
	if r := vineyardFieldConflict(into.data, from.data); r != MergeOK {
		return r
	}

	changed := false
	countryChanged := false
	regionChanged := false
	if into.data.Region == "" && from.data.Region != "" {
		into.data.Region = from.data.Region
		regionChanged = true
		changed = true
	}
	if into.data.Country == "" && from.data.Country != "" {
		into.data.Country = from.data.Country
		countryChanged = true
		changed = true
	}
	if into.data.Website == "" && from.data.Website != "" {
		into.data.Website = from.data.Website
		changed = true
	}
	if into.data.Address == "" && from.data.Address != "" {
		into.data.Address = from.data.Address
		changed = true
	}
	if into.data.Comment == "" && from.data.Comment != "" {
		into.data.Comment = from.data.Comment
		changed = true
	}
	if countryChanged || regionChanged {
		s.geo.insertPair(into.data.Country, into.data.Region)
	}
	if countryChanged {
		s.watch.VineyardCountries.Notify()
	}
	if regionChanged {
		s.watch.VineyardRegions.Notify()
	}
	if changed {
		into.changed()
	}

	result := MergeOK
	for _, w := range from.wines {
		if w.data.Deleted {
			continue
		}
		target, ok := into.winesByName[w.data.Name]
		if !ok {
			target = s.createWine(types.Wine{
				Name:    w.data.Name,
				Grape:   w.data.Grape,
				Comment: w.data.Comment,
			}, types.Dirty, into.localID, true)
		}
		if r := s.MergeWines(target, w); r != MergeOK && result == MergeOK {
			result = r
		}
	}

	if !s.hasLiveWines(from) {
		from.Delete()
	}
	return result
}

func vineyardFieldConflict(a, b types.Vineyard) MergeResult {
	if a.Region != "" && b.Region != "" && a.Region != b.Region {
		return MergeRegionConflict
	}
	if a.Country != "" && b.Country != "" && a.Country != b.Country {
		return MergeCountryConflict
	}
	if a.Website != "" && b.Website != "" && a.Website != b.Website {
		return MergeWebsiteConflict
	}
	if a.Address != "" && b.Address != "" && a.Address != b.Address {
		return MergeAddressConflict
	}
	if a.Comment != "" && b.Comment != "" && a.Comment != b.Comment {
		return MergeCommentConflict
	}
	return MergeOK
}

// absorbYear folds a vintage of the absorbed wine into the surviving wine.
// With no live counterpart the vintage is recreated under the survivor (or a
// tombstoned counterpart revived); a live counterpart is field-merged with
// the empty/disagree rule. The source vintage is tombstoned on success.
func (s *Store) absorbYear(into *Wine, src *Year) MergeResult {
	target, ok := into.yearsByYear[src.data.Year]
	if ok && target.data.Count >= 0 {
		if r := yearFieldConflict(target.data, src.data); r != MergeOK {
			return r
		}
		changed := false
		if target.data.Count == 0 && src.data.Count != 0 {
			target.data.Count = src.data.Count
			s.addTotals(float64(src.data.Count)*target.data.Price, src.data.Count)
			changed = true
		}
		if target.data.Stock == 0 && src.data.Stock != 0 {
			target.data.Stock = src.data.Stock
			changed = true
		}
		if target.data.Price == 0 && src.data.Price != 0 {
			oldCount := target.data.Count
			target.data.Price = src.data.Price
			s.addTotals(float64(oldCount)*src.data.Price, 0)
			changed = true
		}
		if target.data.Rating == 0 && src.data.Rating != 0 {
			target.data.Rating = src.data.Rating
			changed = true
		}
		if target.data.Value == 0 && src.data.Value != 0 {
			target.data.Value = src.data.Value
			changed = true
		}
		if target.data.Sweetness == 0 && src.data.Sweetness != 0 {
			target.data.Sweetness = src.data.Sweetness
			changed = true
		}
		if target.data.Age == 0 && src.data.Age != 0 {
			target.data.Age = src.data.Age
			changed = true
		}
		if target.data.Location == "" && src.data.Location != "" {
			target.data.Location = src.data.Location
			changed = true
		}
		if target.data.Comment == "" && src.data.Comment != "" {
			target.data.Comment = src.data.Comment
			changed = true
		}
		if changed {
			target.changed()
		}
		src.Delete()
		return MergeOK
	}

	if ok {
		// A tombstoned counterpart exists; revive it under its old ids.
		target.reviveDeleted(src.data.Count, src.data.Stock, src.data.Price, src.data.Comment, src.data.Location)
		if s.ui != nil {
			s.ui.ReviveYear(target)
		}
	} else {
		s.createYear(types.Year{
			Year:      src.data.Year,
			Count:     src.data.Count,
			Stock:     src.data.Stock,
			Price:     src.data.Price,
			Rating:    src.data.Rating,
			Value:     src.data.Value,
			Sweetness: src.data.Sweetness,
			Age:       src.data.Age,
			Location:  src.data.Location,
			Comment:   src.data.Comment,
		}, types.Dirty, into.localID, true)
	}
	src.Delete()
	return MergeOK
}

func yearFieldConflict(a, b types.Year) MergeResult {
	if a.Comment != "" && b.Comment != "" && a.Comment != b.Comment {
		return MergeCommentConflict
	}
	numeric := [][2]int{
		{a.Count, b.Count},
		{a.Stock, b.Stock},
		{a.Rating, b.Rating},
		{a.Value, b.Value},
		{a.Sweetness, b.Sweetness},
		{a.Age, b.Age},
	}
	for _, pair := range numeric {
		if pair[0] != 0 && pair[1] != 0 && pair[0] != pair[1] {
			return MergeYearConflict
		}
	}
	if a.Price != 0 && b.Price != 0 && a.Price != b.Price {
		return MergeYearConflict
	}
	if a.Location != "" && b.Location != "" && a.Location != b.Location {
		return MergeYearConflict
	}
	return MergeOK
}

func (s *Store) hasLiveYears(w *Wine) bool {
	for _, y := range w.years {
		if y.data.Count >= 0 {
			return true
		}
	}
	return false
}

func (s *Store) hasLiveWines(v *Vineyard) bool {
	for _, w := range v.wines {
		if !w.data.Deleted {
			return true
		}
	}
	return false
}
