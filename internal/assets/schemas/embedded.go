// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// JobsSchema validates the jobs definition file.
//
//go:embed jobs.schema.json
var JobsSchema []byte

// IndexMonthSchema validates a persisted monthly index file.
//
//go:embed index-month.schema.json
var IndexMonthSchema []byte

// LatestSchema validates a persisted latest pointer.
//
//go:embed latest.schema.json
var LatestSchema []byte

// ManifestSchema validates a persisted run manifest.
//
//go:embed manifest.schema.json
var ManifestSchema []byte
