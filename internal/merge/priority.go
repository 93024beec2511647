package merge

import "horse.fit/eventmerge/internal/model"

// Lower numbers are more trusted.
const (
	PriorityManual   = 1
	PriorityProvider = 2
	PriorityAPI      = 3
	PriorityFeed     = 4
	PriorityScraper  = 5

	// PriorityUnknown applies to source types missing from the table.
	PriorityUnknown = PriorityScraper
)

var sourcePriorities = map[model.SourceType]int{
	model.SourceManual:   PriorityManual,
	model.SourcePartner:  PriorityManual,
	model.SourceProvider: PriorityProvider,
	model.SourceAPI:      PriorityAPI,
	model.SourceRSS:      PriorityFeed,
	model.SourceICS:      PriorityFeed,
	model.SourceScraper:  PriorityScraper,
}

// Priority returns the trust rank of a source type.
func Priority(sourceType model.SourceType) int {
	if p, ok := sourcePriorities[model.NormalizeSourceType(string(sourceType))]; ok {
		return p
	}
	return PriorityUnknown
}

// KnownSourceType reports whether sourceType has an explicit rank.
func KnownSourceType(sourceType model.SourceType) bool {
	_, ok := sourcePriorities[model.NormalizeSourceType(string(sourceType))]
	return ok
}
