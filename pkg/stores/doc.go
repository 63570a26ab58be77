// Package stores persists fleetplay run reports. It provides a
// SQLite-based store with WAL mode and embedded migrations holding run
// headers, per-task outcomes, per-node results, and an append-only run
// event log.
package stores
