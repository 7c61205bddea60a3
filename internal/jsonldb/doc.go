// Package jsonldb provides a generic, concurrent-safe, JSONL-backed table.
//
// # Overview
//
// The package centers around [Table], a generic container that keeps every
// row in memory and persists the whole table through a [Backend] on each
// mutation. Rows keep their insertion order.
//
// # Concurrency: Pessimistic Locking
//
// Each Table owns exactly one exclusive lock, taken by every operation
// including reads. [Table.Mutate] holds it for the entire
// read-modify-write-persist sequence, so mutations against one table are
// totally ordered and never interleave their disk writes. The lock is a
// weighted semaphore: a caller context may give up waiting for it, but once
// acquired an operation always runs to completion.
//
// # Transactions
//
// Mutate runs a callback against a [Tx] holding a copy of the rows. The copy
// only replaces the live rows after the backend accepted the new encoded
// table; any error leaves the table exactly as it was.
//
// # Backends
//
// [FileBackend] writes a temp file next to the target, fsyncs it and renames
// it over the target, so a crash never leaves a half-written file.
// [BoltDB] stores tables as values in a bbolt bucket. [MemBackend] is for
// tests.
//
// # File Format
//
// Line 1 is a schema header holding the format version, the id high-water
// mark and the column list. Each subsequent line is one JSON row.
package jsonldb
