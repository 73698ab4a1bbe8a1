// Package batch runs an operation over a list of IDs with per-item failure
// isolation.
//
// Process returns one Outcome per input ID, in input order, whether the items
// ran sequentially or with bounded concurrency. A failing item never aborts
// the rest of the batch.
package batch
