// Package telemetry exports the engine's internal counters through an
// OpenTelemetry meter. Collection stays lock-free on the hot path; the
// exporter only reads snapshots when the reader collects.
package telemetry
