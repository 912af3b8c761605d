/*
Package metrics collects Prometheus metrics for the memory store: operation
counts and latencies per tier, cross-tier transfer counts, maintenance run
outcomes, and per-tier item gauges.

Metrics are registered through promauto against an injectable Registerer so
tests can use isolated registries. All metrics share a configurable
namespace.
*/
package metrics
