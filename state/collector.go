package state

import (
	"sync"

	"github.com/callsight/callsight/record"
)

// Collector is the sink where finalized call records are appended. It
// is owned by the application for the lifetime of a logical unit of
// work: the interception core only ever appends to it.
type Collector struct {
	mu      sync.Mutex
	records []*record.Record
}

func NewCollector() *Collector {
	return &Collector{}
}

// Append adds a finalized record. Nil collectors are tolerated so a
// tracker never has to branch on a missing sink.
func (c *Collector) Append(r *record.Record) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Snapshot returns a copy of the collected records in append order.
func (c *Collector) Snapshot() []*record.Record {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	out := make([]*record.Record, len(c.records))
	copy(out, c.records)
	c.mu.Unlock()
	return out
}

func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	n := len(c.records)
	c.mu.Unlock()
	return n
}

// Reset drops the collected records. Meant for the owning application
// when its unit of work completes, never called by the core.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.records = nil
	c.mu.Unlock()
}
