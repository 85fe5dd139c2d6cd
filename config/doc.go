// Package config loads, validates and serves the channel table.
//
// A raw Config (parsed from YAML or JSON) is turned into an immutable
// Snapshot by Validate, which fails fast on semantic errors: duplicate
// channel ids, unknown transport references, non-positive rates, ring
// capacities below twice the window size, bad window/overlap pairs,
// gapped slot assignments and stage parameters that would only fail at
// runtime (including filter stability at the channel's rate).
//
// The Store holds the active snapshot behind an atomic pointer. A
// reconfiguration builds and validates a new snapshot off to the side,
// then Swap installs it after the engine's quiescence barrier, so
// readers always see a complete, consistent table.
package config
