// Package storage persists refactored fields and serves byte ranges of
// their level streams.
//
// Layout:
//
//	┌────────────┐     ┌──────────────┐     ┌──────────────────┐
//	│  Refactor  │────▶│    Writer    │────▶│ metadata + level │
//	│   Engine   │     │ (Dir / MDRC) │     │     streams      │
//	└────────────┘     └──────────────┘     └──────────────────┘
//	                                                 │
//	                                                 ▼
//	┌────────────┐     ┌──────────────┐     ┌──────────────────┐
//	│ Reconstruct│◀────│    Reader    │◀────│  byte ranges per │
//	│   Engine   │     │ LoadMetadata │     │  (level, plane)  │
//	└────────────┘     │    Fetch     │     └──────────────────┘
//	                   └──────────────┘
//
// Gateways:
//   - Dir: one metadata file and one file per level, per block
//   - Container: every block and level multiplexed into one file
//   - Memory: in-process streams with fault injection for tests
//
// Fetch reports a missing or short stream on the affected Result only, so
// the caller can degrade that level and keep the rest of the retrieval.
package storage
