// Package stardust provides a lightweight connector SDK and a collection of
// quickstart source connectors for public REST APIs (weather forecasts,
// cryptocurrency markets, national park data, vehicle recalls, and more).
//
// Each connector implements two entry points consumed by a host sync runtime:
// a schema provider that declares table names and primary keys, and an update
// generator that pulls from the remote API, reshapes each response item into
// a flat record, and emits a lazy stream of upsert and checkpoint operations.
//
// The pkg/runtime package contains a local debug runtime that drains the
// operation stream into a SQLite warehouse and persists checkpoint state
// between runs, so connectors can be developed and tested without a host.
package stardust
