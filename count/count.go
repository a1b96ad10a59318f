// Package count contains a counting decorator for rowbatch stores. Every store API call,
// which is one network round trip for a remote store, is counted as a success or an error.
// Tests use it to check that batching issues the calls it should, and no more.
package count

import (
	"fmt"
	"sync/atomic"
)

// Entry is a success/fail pair for a single API method.
type Entry struct {
	successes atomic.Int64
	errors    atomic.Int64
}

func (e *Entry) String() string {
	return fmt.Sprintf("{Successes:%d, Errors:%d}", e.Successes(), e.Errors())
}

// Total is Successes+Errors.
func (e *Entry) Total() int64 { return e.Successes() + e.Errors() }

// Successes returns the number of successful invocations for this Entry.
func (e *Entry) Successes() int64 {
	return e.successes.Load()
}

// Errors returns the number of unsuccessful invocations for this Entry.
func (e *Entry) Errors() int64 {
	return e.errors.Load()
}

func (e *Entry) up(err error) error {
	if err == nil {
		e.successes.Add(1)
	} else {
		e.errors.Add(1)
	}
	return err
}

// Counter holds one Entry per store API.
type Counter struct {
	Tables        Entry
	Get           Entry
	Search        Entry
	GetByID       Entry
	AddRow        Entry
	AddRows       Entry
	DeleteAllRows Entry
	BatchUpdate   Entry
	BatchDelete   Entry
	Begin         Entry
	Commit        Entry
	Rollback      Entry
	SearchLen     Entry
	SearchAt      Entry
	RowID         Entry
	RowGet        Entry
	RowColumns    Entry
	RowUpdate     Entry
	RowDelete     Entry
}

func (c *Counter) entries() []*Entry {
	return []*Entry{
		&c.Tables, &c.Get, &c.Search, &c.GetByID, &c.AddRow, &c.AddRows, &c.DeleteAllRows,
		&c.BatchUpdate, &c.BatchDelete, &c.Begin, &c.Commit, &c.Rollback,
		&c.SearchLen, &c.SearchAt, &c.RowID, &c.RowGet, &c.RowColumns, &c.RowUpdate, &c.RowDelete,
	}
}

// Total returns the number of calls made through every API.
func (c *Counter) Total() int64 {
	var n int64
	for _, e := range c.entries() {
		n += e.Total()
	}
	return n
}

// Reset zeroes every entry.
func (c *Counter) Reset() {
	for _, e := range c.entries() {
		e.successes.Store(0)
		e.errors.Store(0)
	}
}
