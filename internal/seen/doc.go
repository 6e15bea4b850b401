package seen

// Package seen provides the persistence layer for item deduplication.
//
// It currently supports:
//   - seen-id marks with first-sighting timestamps (to survive restarts)
//   - periodic snapshots with a size ceiling and oldest-first pruning
