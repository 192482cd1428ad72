// Package telemetry records refactor and retrieval reports as Parquet files.
//
// The package provides:
//   - LevelRow and RetrieveRow, the on-disk row types
//   - Writer/Reader, generic Parquet writers and readers over those rows
//   - Recorder, an engine.Observer that streams reports into a directory
//
// Files are named levels_<run>.parquet and retrievals_<run>.parquet so that
// several runs can share a directory and be queried together with the
// telemetry/query package.
package telemetry
