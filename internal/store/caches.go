package store

import "sort"

// GeoCache indexes the countries and regions seen across all vineyards, for
// input completion. Regions remember which country they belong to.
type GeoCache struct {
	store     *Store
	countries map[string]map[string]struct{}
	regions   map[string]string
}

func newGeoCache(s *Store) *GeoCache {
	return &GeoCache{
		store:     s,
		countries: make(map[string]map[string]struct{}),
		regions:   make(map[string]string),
	}
}

func (g *GeoCache) insertPair(country, region string) {
	if country != "" {
		regions, ok := g.countries[country]
		if !ok {
			regions = make(map[string]struct{})
			g.countries[country] = regions
			g.store.watch.Countries.Notify(country)
		}
		if region != "" {
			regions[region] = struct{}{}
		}
	}
	if region != "" {
		_, known := g.regions[region]
		if country != "" {
			g.regions[region] = country
		} else if !known {
			g.regions[region] = ""
		}
		if !known {
			g.store.watch.Regions.Notify(region)
		}
	}
}

// Countries returns all known countries, sorted.
func (g *GeoCache) Countries() []string {
	result := make([]string, 0, len(g.countries))
	for c := range g.countries {
		result = append(result, c)
	}
	sort.Strings(result)
	return result
}

// AllRegions returns every known region, sorted.
func (g *GeoCache) AllRegions() []string {
	result := make([]string, 0, len(g.regions))
	for r := range g.regions {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// Regions returns the regions recorded for one country, sorted.
func (g *GeoCache) Regions(country string) []string {
	set, ok := g.countries[country]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(set))
	for r := range set {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// Country returns the country a region was last associated with.
func (g *GeoCache) Country(region string) string {
	return g.regions[region]
}

// GrapeCache collects the grape varieties in use, for input completion.
type GrapeCache struct {
	store  *Store
	grapes map[string]struct{}
}

func newGrapeCache(s *Store) *GrapeCache {
	return &GrapeCache{store: s, grapes: make(map[string]struct{})}
}

func (c *GrapeCache) update(grapeName string) {
	if _, ok := c.grapes[grapeName]; ok {
		return
	}
	c.grapes[grapeName] = struct{}{}
	c.store.watch.Grapes.Notify(grapeName)
}

// Grapes returns all non-empty varieties seen so far, sorted.
func (c *GrapeCache) Grapes() []string {
	result := make([]string, 0, len(c.grapes))
	for g := range c.grapes {
		if g != "" {
			result = append(result, g)
		}
	}
	sort.Strings(result)
	return result
}
