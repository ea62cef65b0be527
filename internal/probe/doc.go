// Package probe implements the TCP connect-scan engine.
//
// A scan validates its target and port specification, resolves the target
// once, then fans connection attempts out through a bounded worker pool.
// Each attempt ends in exactly one Outcome: Open, Closed, TimedOut or Error.
// A single aggregator collects outcomes, so workers never share mutable
// state, and the open ports are returned sorted ascending.
//
// Basic usage:
//
//	open, err := probe.ProbeRange(ctx, "scanme.example", 1, 1024, 200, time.Second)
//
// Callers that need per-port diagnostics use Engine.Probe; callers that want
// outcomes as they land use Engine.Stream.
package probe
