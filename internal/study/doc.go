// Package study implements the runtime for analytical overlay plugins:
// discovery and loading of Lua study sources, sandboxed evaluation,
// lifecycle-interface validation, a registry that owns all lifecycle
// calls, a coordinator that sequences an ordered update pipeline, and a
// filesystem watcher that hot-reloads studies without restarting the
// host.
package study
