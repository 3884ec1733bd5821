// Package conquest implements the rules of the territorial conquest game:
// territory assignment, troop movement, deterministic combat, surrender with
// redistribution, the turn/phase machine, the coin economy, and victory
// detection. The package is pure in-memory state with no I/O; callers own
// concurrency and persistence.
package conquest

import "sort"

// Catalog maps a territory ID to its display name. It is supplied once at
// process start and never mutated; game states copy the names they need.
type Catalog map[string]string

// sortedIDs returns the catalog keys in deterministic order, so that a
// seeded shuffle over them is reproducible in tests.
func (c Catalog) sortedIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultCatalog returns the standard world map shipped with the game.
func DefaultCatalog() Catalog {
	return Catalog{
		"alaska":      "Alaska",
		"alberta":     "Alberta",
		"amazonia":    "Amazonia",
		"arabia":      "Arabia",
		"argentina":   "Argentina",
		"castille":    "Castille",
		"congo":       "Congo",
		"east_africa": "East Africa",
		"gaul":        "Gaul",
		"greenland":   "Greenland",
		"hindustan":   "Hindustan",
		"iberia":      "Iberia",
		"indochina":   "Indochina",
		"kamchatka":   "Kamchatka",
		"madagascar":  "Madagascar",
		"mexico":      "Mexico",
		"mongolia":    "Mongolia",
		"new_guinea":  "New Guinea",
		"nippon":      "Nippon",
		"nordland":    "Nordland",
		"patagonia":   "Patagonia",
		"persia":      "Persia",
		"quebec":      "Quebec",
		"sahara":      "Sahara",
		"siberia":     "Siberia",
		"ukraine":     "Ukraine",
		"urals":       "Urals",
		"westland":    "Westland",
	}
}
