package autobatch

import (
	"context"
	"fmt"
	log "log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/rowbatch"
)

// Early flush trigger reasons.
const (
	TriggerGet    = "get"
	TriggerSearch = "search"
	TriggerGetID  = "get_id"
	TriggerRowGet = "row get"
)

// Stats counts what a Batcher did since it was created.
type Stats struct {
	// Windows is the number of outermost windows opened.
	Windows int
	// Flushes is the number of flushes that had queued work.
	Flushes int
	// EarlyFlushes is the number of flushes forced by a read before the window closed.
	EarlyFlushes int
	// AddCalls, UpdateCalls and DeleteCalls count the confirmed bulk store calls.
	AddCalls    int
	UpdateCalls int
	DeleteCalls int
}

// Pending reports the sizes of the queues.
type Pending struct {
	Additions int
	Updates   int
	Deletions int
}

// IsEmpty reports whether nothing is queued.
func (p Pending) IsEmpty() bool {
	return p.Additions == 0 && p.Updates == 0 && p.Deletions == 0
}

type update struct {
	row     *Row
	columns rowbatch.Columns
}

// Batcher owns the queues of a Tables registry and the batching window state.
type Batcher struct {
	tables   *Tables
	opts     Options
	batching bool
	depth    int

	additions map[*Table][]*Row
	addOrder  []*Table
	updates   []*update
	updateIdx map[rowbatch.RowKey]*update
	deletions []*Row
	deleteIdx map[rowbatch.RowKey]struct{}

	stats Stats
}

func newBatcher(tables *Tables, opts Options) *Batcher {
	return &Batcher{
		tables:    tables,
		opts:      opts,
		additions: make(map[*Table][]*Row),
		updateIdx: make(map[rowbatch.RowKey]*update),
		deleteIdx: make(map[rowbatch.RowKey]struct{}),
	}
}

// Batching reports whether a window is open.
func (b *Batcher) Batching() bool {
	return b.batching
}

// Stats returns a copy of the counters.
func (b *Batcher) Stats() Stats {
	return b.stats
}

// Pending returns the sizes of the queues. Outside a window they are non-empty only when the
// last flush failed.
func (b *Batcher) Pending() Pending {
	p := Pending{Updates: len(b.updates), Deletions: len(b.deletions)}
	for _, rows := range b.additions {
		p.Additions += len(rows)
	}
	return p
}

// Enter opens a batching window. Nested calls only deepen the current window.
func (b *Batcher) Enter() {
	b.depth++
	if b.depth > 1 {
		return
	}
	if p := b.Pending(); !p.IsEmpty() {
		log.Warn("autobatch: discarding operations left over from a failed flush",
			"additions", p.Additions, "updates", p.Updates, "deletions", p.Deletions)
		b.Discard()
	}
	b.tables.ClearCaches()
	b.batching = true
	b.stats.Windows++
}

// Exit closes the window opened by the matching Enter. The outermost Exit flushes the queues
// and clears the caches. The window is closed even when the flush fails; what was not confirmed
// by the store stays queued, see Pending.
func (b *Batcher) Exit(ctx context.Context) error {
	if b.depth == 0 {
		return fmt.Errorf("autobatch: Exit called without a matching Enter")
	}
	b.depth--
	if b.depth > 0 {
		return nil
	}
	err := b.Flush(ctx)
	b.batching = false
	b.tables.ClearCaches()
	return err
}

// Discard drops every queued operation. Discarded pending rows can no longer be used.
func (b *Batcher) Discard() {
	for _, rows := range b.additions {
		for _, r := range rows {
			r.markDeleted()
		}
	}
	clear(b.additions)
	b.addOrder = nil
	b.updates = nil
	clear(b.updateIdx)
	b.deletions = nil
	clear(b.deleteIdx)
}

// Flush applies the queues to the store: additions, then updates, then deletions. It stops at
// the first failing step; queued operations are removed only once the store confirmed them.
func (b *Batcher) Flush(ctx context.Context) error {
	if b.Pending().IsEmpty() {
		return nil
	}
	b.stats.Flushes++
	if err := b.flushAdditions(ctx); err != nil {
		return err
	}
	if err := b.flushUpdates(ctx); err != nil {
		return err
	}
	return b.flushDeletions(ctx)
}

func (b *Batcher) earlyTrigger(reason string) {
	log.Info("autobatch: flush triggered early", "trigger", reason)
	b.stats.EarlyFlushes++
	if b.opts.OnEarlyFlush != nil {
		b.opts.OnEarlyFlush(reason)
	}
}

// flushForRead flushes everything before a table read of an open window.
func (b *Batcher) flushForRead(ctx context.Context, reason string) error {
	if !b.batching || b.Pending().IsEmpty() {
		return nil
	}
	b.earlyTrigger(reason)
	return b.Flush(ctx)
}

// flushAdditionsEarly persists the queued additions so that pending rows get identifiers.
func (b *Batcher) flushAdditionsEarly(ctx context.Context, reason string) error {
	if len(b.addOrder) == 0 {
		return nil
	}
	b.earlyTrigger(reason)
	b.stats.Flushes++
	return b.flushAdditions(ctx)
}

func (b *Batcher) queueAddition(r *Row) {
	t := r.table
	if _, ok := b.additions[t]; !ok {
		b.addOrder = append(b.addOrder, t)
	}
	b.additions[t] = append(b.additions[t], r)
}

func (b *Batcher) dropAddition(r *Row) {
	t := r.table
	rows := slices.DeleteFunc(b.additions[t], func(x *Row) bool { return x == r })
	if len(rows) > 0 {
		b.additions[t] = rows
		return
	}
	delete(b.additions, t)
	b.addOrder = slices.DeleteFunc(b.addOrder, func(x *Table) bool { return x == t })
}

func (b *Batcher) queueUpdate(r *Row, columns rowbatch.Columns) {
	if u, ok := b.updateIdx[r.key]; ok {
		u.columns.Merge(columns)
		return
	}
	u := &update{row: r, columns: columns.Clone()}
	b.updates = append(b.updates, u)
	b.updateIdx[r.key] = u
}

func (b *Batcher) queueDeletion(r *Row) {
	if u, ok := b.updateIdx[r.key]; ok {
		delete(b.updateIdx, r.key)
		b.updates = slices.DeleteFunc(b.updates, func(x *update) bool { return x == u })
	}
	// Another instance of the same row may already be queued.
	if _, ok := b.deleteIdx[r.key]; ok {
		return
	}
	b.deleteIdx[r.key] = struct{}{}
	b.deletions = append(b.deletions, r)
}

type addJob struct {
	table    *Table
	rows     []*Row
	payload  []rowbatch.Columns
	deferred []rowbatch.Columns
	created  []rowbatch.Row
}

func (b *Batcher) flushAdditions(ctx context.Context) error {
	if len(b.addOrder) == 0 {
		return nil
	}
	jobs := make([]*addJob, 0, len(b.addOrder))
	for _, t := range b.addOrder {
		rows := b.additions[t]
		j := &addJob{
			table:    t,
			rows:     rows,
			payload:  make([]rowbatch.Columns, len(rows)),
			deferred: make([]rowbatch.Columns, len(rows)),
		}
		for i, r := range rows {
			now, later := splitPendingRefs(r.cache)
			native, err := unwrapColumns(now)
			if err != nil {
				return fmt.Errorf("add to table %q: %w", t.Name(), err)
			}
			j.payload[i] = native
			j.deferred[i] = later
		}
		jobs = append(jobs, j)
	}

	var g errgroup.Group
	g.SetLimit(b.opts.addConcurrency())
	for _, j := range jobs {
		g.Go(func() error {
			log.Debug("autobatch: bulk add", "table", j.table.Name(), "rows", len(j.payload))
			created, err := j.table.native.AddRows(ctx, j.payload)
			if err != nil {
				return fmt.Errorf("add to table %q: %w", j.table.Name(), err)
			}
			if len(created) != len(j.payload) {
				return fmt.Errorf("add to table %q: store returned %d rows for %d", j.table.Name(), len(created), len(j.payload))
			}
			j.created = created
			return nil
		})
	}
	err := g.Wait()

	// Bind what the store confirmed, even when another table failed.
	for _, j := range jobs {
		if j.created == nil {
			continue
		}
		b.stats.AddCalls++
		delete(b.additions, j.table)
		for i, r := range j.rows {
			if berr := r.bind(j.created[i]); berr != nil && err == nil {
				err = berr
			}
			if len(j.deferred[i]) > 0 {
				b.queueUpdate(r, j.deferred[i])
			}
		}
	}
	b.addOrder = slices.DeleteFunc(b.addOrder, func(t *Table) bool {
		_, ok := b.additions[t]
		return !ok
	})
	return err
}

func (b *Batcher) flushUpdates(ctx context.Context) error {
	if len(b.updates) == 0 {
		return nil
	}
	batch := make([]rowbatch.RowUpdate, len(b.updates))
	for i, u := range b.updates {
		cols, err := unwrapColumns(u.columns)
		if err != nil {
			return fmt.Errorf("update of %v: %w", u.row, err)
		}
		batch[i] = rowbatch.RowUpdate{Row: u.row.native, Columns: cols}
	}
	log.Debug("autobatch: bulk update", "rows", len(batch))
	if err := b.tables.store.BatchUpdate(ctx, batch); err != nil {
		return err
	}
	b.stats.UpdateCalls++
	b.updates = nil
	clear(b.updateIdx)
	return nil
}

func (b *Batcher) flushDeletions(ctx context.Context) error {
	if len(b.deletions) == 0 {
		return nil
	}
	rows := make([]rowbatch.Row, len(b.deletions))
	for i, r := range b.deletions {
		rows[i] = r.native
	}
	log.Debug("autobatch: bulk delete", "rows", len(rows))
	if err := b.tables.store.BatchDelete(ctx, rows); err != nil {
		return err
	}
	b.stats.DeleteCalls++
	b.deletions = nil
	clear(b.deleteIdx)
	return nil
}

// splitPendingRefs separates the columns referencing rows that are not persisted yet.
func splitPendingRefs(columns rowbatch.Columns) (now, later rowbatch.Columns) {
	now = make(rowbatch.Columns, len(columns))
	for k, v := range columns {
		if v.HasRow(isPending) {
			if later == nil {
				later = rowbatch.Columns{}
			}
			later[k] = v
			continue
		}
		now[k] = v
	}
	return now, later
}

func isPending(r rowbatch.Row) bool {
	p, ok := r.(*Row)
	return ok && p.native == nil
}

// unwrap maps a proxy to its native row. Other rows pass through. A persisted row deleted within
// the window still maps to its native row: its deletion flushes after the updates.
func unwrap(r rowbatch.Row) (rowbatch.Row, error) {
	p, ok := r.(*Row)
	if !ok {
		return r, nil
	}
	if p.native != nil {
		return p.native, nil
	}
	if p.deleted {
		return nil, rowbatch.NewError(rowbatch.RowDeleted, fmt.Errorf("referenced %v was deleted", p), p.key)
	}
	return nil, fmt.Errorf("referenced %v is not persisted yet", p)
}

func unwrapColumns(columns rowbatch.Columns) (rowbatch.Columns, error) {
	return columns.MapRows(unwrap)
}
