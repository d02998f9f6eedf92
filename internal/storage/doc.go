// Package storage persists fetched items and the delivery ledger.
//
// It currently supports:
//   - Item persistence (durable IDs, unprocessed queries, summary updates)
//   - Delivery ledger (which items were already sent, keyed by URL or
//     title|source fallback)
//
// Two drivers exist: "sqlite" (database file) and "file" (jsonl journal +
// snapshot, dependency-free). With no driver configured, storage is disabled
// and the pipeline runs without persistence or dedup.
package storage
