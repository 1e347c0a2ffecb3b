// Package core defines the domain model for procwatch.
//
// The core package provides:
//   - Domain types (Batch, ColumnBaseline, RowScore, DetectionRun)
//   - The error taxonomy shared by all pipeline stages
//   - Constants and enums for status values and configuration defaults
//
// Types here are plain values with no storage or engine dependencies;
// the pipeline packages (ingest, storage, baseline, scoring, runner)
// all depend on core and never on each other's internals.
package core
