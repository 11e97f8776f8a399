// Package util provides helpers for the entity store and the components
// built on top of it.
//
// The package contains:
//   - statistics: Summary statistics and a SizeHistogram for tracking payload size distribution
//   - signal: A broadcast wake-up primitive used by waiting queue fetchers
package util
