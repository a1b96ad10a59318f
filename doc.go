// Package rowbatch defines the contracts, value model and helpers shared by the row batching
// layer. A Store is a row-oriented remote datastore reachable through a narrow CRUD interface
// where every call is a network round trip. The autobatch subpackage wraps a Store so that
// application code can read and write single rows while writes issued inside one transaction
// attempt get coalesced into at most three bulk calls (add, update, delete) and reads of rows
// already seen in the attempt are served from memory.
//
// Concrete stores live in subpackages: inmemory (embedded and test use), redis, cassandra and
// aws_s3. The count subpackage decorates any Store with per-call counters.
package rowbatch

// Timeout model
//
// Nothing in this package or in autobatch keeps its own timers. Blocking calls take a
// context.Context which is handed as-is to the Store, so deadlines and cancellation come from the
// caller and from the Store's own operation timeouts. RunInTransaction stops retrying as soon as
// the context is done.
