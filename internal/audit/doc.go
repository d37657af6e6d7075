// Package audit writes the tracker's append-only JSONL audit trail.
//
// The radio manager logs one record per executed task (command, unit,
// modulation, sequence, outcome and error code). The API layer adds the
// acting user through WithUser. Files rotate with lumberjack.
package audit
