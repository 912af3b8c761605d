// Package types provides unified type definitions for the memflow store.
//
// It contains the [MemoryItem] data model shared by every storage backend,
// the [Tier] enumeration, and the structured [Error] taxonomy used across
// the module.
package types
