// Package metrics exposes Prometheus collectors for executions, active
// workspaces and rate limiting. The collectors register with the default
// registry on import.
package metrics
