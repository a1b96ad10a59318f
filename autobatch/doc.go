// Package autobatch is a write-batching and read-caching layer over a rowbatch.Store.
//
// Inside a batching window, row writes are queued instead of sent: additions are grouped
// per table, updates are merged per row (last write wins per column) and deletions are
// collected. When the window closes the queues are flushed in the fixed order additions,
// updates, deletions, so a window costs at most one AddRows call per table, one BatchUpdate
// and one BatchDelete, regardless of row count. Reads within the window observe the window's
// own writes, and every remote row is represented by a single *Row instance.
//
// A Tables value and everything obtained from it must be used by one goroutine at a time.
// Give each concurrent unit of work its own Tables.
package autobatch
