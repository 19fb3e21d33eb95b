// Package grape carries the grape variety knowledge used for autocompletion
// and display: a table of known varieties with their color, a set of alias
// spellings, and substring-based guessing of the variety from a wine name.
package grape

import (
	"regexp"
	"strings"
)

// Color classifies a grape variety for display purposes. Sparkling wine is
// not strictly a color, but treating it as one keeps filtering simple.
type Color string

const (
	Red       Color = "red"
	Rose      Color = "rose"
	White     Color = "white"
	Sparkling Color = "sparkling"
	Unknown   Color = "unknown"
)

type knownGrape struct {
	name  string
	color Color
}

// Ordered list: matching walks it front to back, so more specific names must
// come before names they contain ("Schwarzriesling" before "Riesling").
var knownGrapes = []knownGrape{
	{"Schwarzriesling", Red},
	// Rest of the list is alpha-sorted.
	{"Auxerrois", White},
	{"Bacchus", White},
	{"Cabernet Franc", Red},
	{"Cabernet Sauvignon", Red},
	{"Chardonnay", White},
	{"Dornfelder", Red},
	{"Frühburgunder", Red},
	{"Gewürztraminer", White},
	{"Grenache", Red},
	{"Gutedel", White},
	{"Grauburgunder", White},
	{"Grüner Veltliner", White},
	{"Kerner", White},
	{"Lagrein", Red},
	{"Lemberger", Red},
	{"Merlot", Red},
	{"Muskateller", White},
	{"Müller-Thurgau", White},
	{"Nebbiolo", Red},
	{"Portugieser", Red},
	{"Primitivo", Red},
	{"Regent", Red},
	{"Riesling", White},
	{"Rioja", Red},
	{"Saint Laurent", Red},
	{"Sangiovese", Red},
	{"Sauvignon Blanc", White},
	{"Scheurebe", White},
	{"Silvaner", White},
	{"Souvignier Gris", White},
	{"Spätburgunder", Red},
	{"Syrah", Red},
	{"Tempranillo", Red},
	{"Trollinger", Red},
	{"Vernatsch", Red},
	{"Viognier", White},
	{"Weißburgunder", White},
	{"Zweigelt", Red},
	// Escape hatch: when in doubt, just say "white"/"red" grape.
	{"rosé", Rose},
	{"rot", Red},
	{"weiß", White},
	{"Sekt", Sparkling},
}

// Alias spellings that map to a canonical variety name.
var grapeGuesses = []struct {
	alias string
	grape string
}{
	{"Grauer Burgunder", "Grauburgunder"},
	{"Klingelberg", "Riesling"}, // Implicitly covers "Klingelberger".
	{"Pinot Blanc", "Weißburgunder"},
	{"Pinot Gris", "Grauburgunder"},
	{"Pinot Grigio", "Grauburgunder"},
	{"Pinot Noir", "Spätburgunder"},
	{"St. Laurent", "Saint Laurent"},
	{"Weißer Burgunder", "Weißburgunder"},
}

var colorByGrape = func() map[string]Color {
	m := make(map[string]Color, len(knownGrapes))
	for _, g := range knownGrapes {
		m[g.name] = g.color
	}
	return m
}()

// Known returns the canonical variety names, in matching order.
func Known() []string {
	names := make([]string, len(knownGrapes))
	for i, g := range knownGrapes {
		names[i] = g.name
	}
	return names
}

// GuessForWine derives a grape variety from a wine's name, e.g. "Riesling"
// from "Hattenheimer Riesling trocken". Returns "" when nothing matches.
func GuessForWine(wineName string) string {
	lower := strings.ToLower(wineName)
	for _, g := range knownGrapes {
		if strings.Contains(lower, strings.ToLower(g.name)) {
			return g.name
		}
	}
	for _, guess := range grapeGuesses {
		if strings.Contains(lower, strings.ToLower(guess.alias)) {
			return guess.grape
		}
	}
	return ""
}

var rosePattern = regexp.MustCompile(`(?i)(\bros(e\b|é[\s)"',.?!-]|é$)|\bweißherbst\b)`)

// Must end at a word boundary, but not necessarily start at one, in order
// to match "Rieslingsekt" etc.
var sparklingPattern = regexp.MustCompile(`(?i)sekt\b`)

// ColorFor classifies a wine by its grape and name. The name wins over the
// grape so that a Riesling Sekt counts as sparkling, not white.
func ColorFor(grapeName, wineName string) Color {
	if sparklingPattern.MatchString(wineName) {
		return Sparkling
	}
	if rosePattern.MatchString(wineName) {
		return Rose
	}
	if grapeName == "" {
		return Unknown
	}
	if c, ok := colorByGrape[grapeName]; ok {
		return c
	}
	return Unknown
}
