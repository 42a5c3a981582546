// Package store persists archived records in SQLite.
//
// Two tables hold durable state. records keeps the full serialized payload
// of every record that still has work pending or has not been compacted.
// pruned_records keeps a small summary of records whose photos are fully
// processed. A record id lives in exactly one of the two tables; the
// seen_records view is their union and is what deduplication checks
// against.
//
// Ids are stored as TEXT and compared as unsigned 64-bit integers in Go,
// since they do not fit SQLite's signed INTEGER range.
package store
