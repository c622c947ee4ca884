package tagger

import (
	"strings"

	"github.com/chronicle-dev/chronicle/internal/taxonomy"
)

// heuristicHint maps a content fragment to a category guess. Fragments
// cover the languages that show up in real calendar and note exports.
type heuristicHint struct {
	fragment string
	category string
	conf     float64
}

var heuristicHints = []heuristicHint{
	// work
	{"standup", "work", 0.8},
	{"sprint", "work", 0.75},
	{"deploy", "work", 0.7},
	{"code review", "work", 0.8},
	{"1:1", "work", 0.7},
	{"meeting", "work", 0.6},
	{"reunión", "work", 0.7},
	{"besprechung", "work", 0.7},
	{"встреча", "work", 0.75},
	{"работа", "work", 0.7},

	// health
	{"gym", "health", 0.8},
	{"workout", "health", 0.8},
	{"run", "health", 0.4},
	{"yoga", "health", 0.8},
	{"doctor", "health", 0.7},
	{"dentist", "health", 0.7},
	{"arzt", "health", 0.7},
	{"тренировка", "health", 0.8},
	{"врач", "health", 0.7},

	// social
	{"dinner with", "social", 0.7},
	{"lunch with", "social", 0.7},
	{"coffee with", "social", 0.7},
	{"birthday", "social", 0.7},
	{"cena", "social", 0.5},
	{"ужин", "social", 0.6},
	{"день рождения", "social", 0.7},

	// maintenance
	{"groceries", "maintenance", 0.7},
	{"cleaning", "maintenance", 0.7},
	{"laundry", "maintenance", 0.7},
	{"repair", "maintenance", 0.6},
	{"einkaufen", "maintenance", 0.6},
	{"уборка", "maintenance", 0.7},
	{"стирка", "maintenance", 0.7},

	// personal
	{"reading", "personal", 0.5},
	{"journal", "personal", 0.6},
	{"meditat", "personal", 0.6},
	{"hobby", "personal", 0.5},
	{"чтение", "personal", 0.5},
}

// heuristicPass scans the text for known fragments. Only categories
// present in the active taxonomy are eligible.
func heuristicPass(text string, tax taxonomy.Taxonomy) []candidate {
	lower := strings.ToLower(text)
	var cands []candidate
	for _, h := range heuristicHints {
		if !strings.Contains(lower, h.fragment) {
			continue
		}
		if !tax.Has(h.category) {
			continue
		}
		cands = append(cands, candidate{name: h.category, conf: h.conf, stage: "heuristic"})
	}
	return dedupe(cands)
}
