package service

import "github.com/noah-isme/ct-study-api/internal/models"

// AssignGroup resolves the experimental condition for a new participant.
// An explicit caller choice wins over the code's preset group, which wins
// over the configured default. Pure function, no side effects.
func AssignGroup(explicit, preset, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if preset != "" {
		return preset
	}
	return fallback
}

// PickVersion chooses the least-assigned counterbalancing version from the
// locked counters, breaking ties by lowest version number. Returns 0 when
// no counters are available.
func PickVersion(counters []models.BalanceCounter) int {
	best := 0
	bestCount := -1
	for _, c := range counters {
		if bestCount < 0 || c.AssignedCount < bestCount ||
			(c.AssignedCount == bestCount && c.Version < best) {
			best = c.Version
			bestCount = c.AssignedCount
		}
	}
	return best
}