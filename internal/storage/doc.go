// Package storage groups the recording side of powerscope.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Session   │────▶│  Recorder   │────▶│   Parquet   │
//	│ RecordFrame │     │ (ring queue)│     │ frames-*.pq │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                               │
//	                          ┌────────────────────┤
//	                          ▼                    ▼
//	                   ┌─────────────┐      ┌─────────────┐
//	                   │  Retention  │      │    Query    │
//	                   │ (age/count) │      │  (DuckDB)   │
//	                   └─────────────┘      └─────────────┘
//
// Subpackages:
//   - buffer: generic ring buffer used as the recorder queue
//   - parquet: frame row schema, writer and reader
//   - recorder: per-session recording files
//   - retention: removal of old recordings
//   - query: SQL summaries over recordings
package storage
