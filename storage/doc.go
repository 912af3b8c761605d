// Package storage defines the uniform backend contract shared by every
// memory tier and the concrete adapters that satisfy it.
//
// # Contract
//
//   - [Backend]: async CRUD + search. Initialize/Shutdown are idempotent;
//     Retrieve reports absence as (nil, nil), never as an error; Search
//     returns results sorted by descending score with ties broken by
//     ascending id and never exceeds the requested limit.
//   - [BulkReader]: optional bulk-enumeration capability. Callers probe for
//     it once at tier construction, not per call.
//   - [CollectStats]: best-effort stats collection. A failing backend yields
//     a placeholder snapshot carrying the failure message; stats are
//     diagnostic, never load-bearing.
//
// # Adapters
//
//   - memory: plain in-process map
//   - chromem: embedded vector index (philippgille/chromem-go)
//   - redis: external key-value store (go-redis)
//   - sqlite / postgres: relational store via gorm
//   - mongo: external document store
//
// All adapters for a tier are behaviorally interchangeable; nothing above
// this package branches on the concrete type.
package storage
