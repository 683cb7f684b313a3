package types

// Beatmap is the sample entity stored by the tests and examples. The
// scheduler and storage layers do not interpret its fields; it exists so
// writes, queries, and snapshots have a concrete record to carry.
type Beatmap struct {
	ID              string  // UUID v7, generated on insert when empty.
	Title           string  // Display title.
	PendingDeletion bool    // Marked for removal by a background sweep.
	Difficulty      float64 // Star rating.
}
