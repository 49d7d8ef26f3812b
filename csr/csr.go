/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package csr

import (
	"sync/atomic"

	"github.com/krotik/graphdb/arena"
	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/table"
)

/*
sourceList is the per-source adjacency state of spec §4.4:
{ buffer, size, capacity, lock }. buffer is published with a release-store
(readers acquire-load it); growth copies the live prefix into a fresh
buffer and retires the old one through the arena rather than mutating it in
place, so a reader already holding the old pointer keeps a valid, stable
view (invariant I3).
*/
type sourceList struct {
	buf      atomic.Pointer[arena.Buffer]
	size     atomic.Uint32
	capacity uint32 // writer-only; guarded by lock
	lock     spinlock
}

/*
CSR is the adjacency structure for one (src-label, edge-label, dst-label,
direction) triplet. Indexed by source vid; lists[s] is empty (nil buffer,
size 0) until the first edge from s is inserted.
*/
type CSR struct {
	strategy schema.Strategy
	codec    codec
	lists    []sourceList
	arena    *arena.Arena
	blob     *table.BlobHeap // non-nil only if codec.propType == schema.DTString
}

/*
New creates a CSR for maxVertexNum sources under strategy, using a (true
shared) arena for buffer allocation/retirement. blobPath is used only when
propType is schema.DTString; pass "" for an anonymous (non-durable) blob
heap.
*/
func New(a *arena.Arena, maxVertexNum uint32, strategy schema.Strategy, propType schema.PrimitiveType, blobPath string) (*CSR, error) {
	c := &CSR{
		strategy: strategy,
		codec:    newCodec(propType),
		lists:    make([]sourceList, maxVertexNum),
		arena:    a,
	}

	if propType == schema.DTString {
		blob, err := table.NewBlobHeap(blobPath, table.DefaultBlobCapacity)
		if err != nil {
			return nil, err
		}
		c.blob = blob
	}

	return c, nil
}

/*
EdgesOf scans the adjacency list of source s and calls fn for every record
with Timestamp <= ts, in insertion order. Lock-free: loads size before
buffer, both with acquire semantics, and never blocks on the writer.

The order matters. Insert publishes a grown buffer before the new size
(buf store happens-before size store); loading size first and buf second
therefore guarantees that whatever buffer this call observes was already
in place when that size was published, so buf.Data is at least size
records long. Loading buf first would let a reader pin a buffer from
before a grow and then observe the post-grow size, scanning past the
records that buffer actually holds.
*/
func (c *CSR) EdgesOf(s uint32, ts uint64, fn func(Record)) {
	if int(s) >= len(c.lists) {
		return
	}

	l := &c.lists[s]
	size := l.size.Load()
	buf := l.buf.Load()

	if buf == nil {
		return
	}

	for i := uint32(0); i < size; i++ {
		off := int(i) * c.codec.width
		rec := c.codec.decode(buf.Data[off:off+c.codec.width], c.blob)
		if rec.Timestamp <= ts {
			fn(rec)
		}
	}
}

/*
Sources returns the number of source slots this CSR was sized for
(maxVertexNum at New time), for the persistence layer's snapshot
dump/load to iterate every source in order.
*/
func (c *CSR) Sources() int {
	return len(c.lists)
}

/*
Degree returns the number of records in s's adjacency list as of the most
recent write observed by the caller (not timestamp-filtered).
*/
func (c *CSR) Degree(s uint32) uint32 {
	if int(s) >= len(c.lists) {
		return 0
	}
	return c.lists[s].size.Load()
}

/*
Insert appends (or, under StrategySingle, overwrites) an edge from s to d
carrying timestamp ts and property prop. A no-op under StrategyNone.

Single does not preserve history: a second insert to the same source
overwrites the one existing record's neighbor, timestamp, and property in
place (spec §3 invariant I4, §9 Open Questions). That overwrite is not
synchronized against concurrent lock-free readers the way growth is -
EdgesOf may observe a torn mix of the old and new record's fields during
the brief window of the in-place write. This is the documented, accepted
weakening for Single; Multiple never exhibits it because it only ever
writes to a slot past the currently-published size.
*/
func (c *CSR) Insert(s, d uint32, ts uint64, prop interface{}) error {
	if c.strategy == schema.StrategyNone {
		return nil
	}
	if int(s) >= len(c.lists) {
		return nil
	}

	l := &c.lists[s]
	l.lock.lock()
	defer l.lock.unlock()

	rec := Record{Neighbor: d, Timestamp: ts, Prop: prop}

	if c.strategy == schema.StrategySingle {
		buf := l.buf.Load()
		if buf == nil {
			nb := c.arena.Allocate(c.codec.width)
			l.capacity = 1
			buf = nb
		}
		if err := c.codec.encode(buf.Data[0:c.codec.width], rec, c.blob); err != nil {
			return err
		}
		if l.size.Load() == 0 {
			l.buf.Store(buf)
			l.size.Store(1)
		}
		return nil
	}

	// StrategyMultiple
	size := l.size.Load()
	buf := l.buf.Load()

	if buf == nil || size == l.capacity {
		newCap := l.capacity * 2
		if newCap == 0 {
			newCap = 1
		}
		nb := c.arena.Allocate(int(newCap) * c.codec.width)
		if buf != nil {
			copy(nb.Data, buf.Data[:int(size)*c.codec.width])
		}
		l.buf.Store(nb)
		if buf != nil {
			c.arena.Retire(buf)
		}
		l.capacity = newCap
		buf = nb
	}

	off := int(size) * c.codec.width
	if err := c.codec.encode(buf.Data[off:off+c.codec.width], rec, c.blob); err != nil {
		return err
	}
	l.size.Store(size + 1)

	return nil
}
