/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package indexer implements the LF-Indexer of spec §4.2: a lock-free,
open-addressed external-key to internal-vid map, sized once at open and
never resized.

Slot layout

Each slot holds a (key, vid) pair. Key starts at a sentinel "empty" value;
Insert claims a slot with a compare-and-swap on the key field after first
writing the vid, so a reader that observes a non-sentinel key is guaranteed
to also observe the vid that belongs to it (the vid write happens-before
the key's CAS-publish; Go's atomic package gives this pairing the same
acquire/release guarantee spec §4.2 asks for, without an explicit
acquire/release API).

Probing is linear. The table never shrinks or rehashes: it is sized once
from max_vertex_num, per spec's "Resize policy: none".
*/
package indexer

import (
	"math/bits"
	"sync/atomic"

	"github.com/krotik/graphdb/storeerr"
)

/*
EmptyKey is the sentinel value marking an unused slot. Primary keys equal
to this value cannot be stored; schema.Schema.Validate does not currently
enforce this (primary keys are caller-supplied data, not schema-declared),
so callers populating a store from untrusted input should reject it
themselves.
*/
const EmptyKey = int64(-1) << 63 // math.MinInt64, without importing math for one constant

type slot struct {
	key atomic.Int64
	vid atomic.Uint32
}

/*
Indexer is one label's external-key to internal-vid map.
*/
type Indexer struct {
	slots    []slot
	mask     uint64
	capacity uint32 // max_vertex_num, the true ceiling on assigned vids
	size     atomic.Uint32
	nextVid  atomic.Uint32
}

/*
New creates an Indexer sized for maxVertexNum entries at a load factor of at
most 0.5: the backing table has nextPow2(2 * maxVertexNum) slots, rounded
up to at least 2.
*/
func New(maxVertexNum uint64) *Indexer {
	tableSize := nextPow2(maxVertexNum * 2)
	if tableSize < 2 {
		tableSize = 2
	}

	idx := &Indexer{
		slots:    make([]slot, tableSize),
		mask:     tableSize - 1,
		capacity: capVertexNum(maxVertexNum),
	}
	for i := range idx.slots {
		idx.slots[i].key.Store(EmptyKey)
	}
	return idx
}

func capVertexNum(n uint64) uint32 {
	if n > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << uint(bits.Len64(n))
}

/*
hash mixes a signed key into a table index using a splitmix64-style
finalizer, chosen for its avalanche properties on small inputs (most
primary keys are small sequential integers, which a naive multiplicative
hash would cluster badly).
*/
func hash(key int64) uint64 {
	x := uint64(key)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

/*
Lookup returns the vid mapped to key, if any. Never blocks.
*/
func (idx *Indexer) Lookup(key int64) (uint32, bool) {
	if key == EmptyKey {
		return 0, false
	}

	i := hash(key) & idx.mask
	for probes := uint64(0); probes <= idx.mask; probes++ {
		cur := idx.slots[i].key.Load()
		if cur == EmptyKey {
			return 0, false
		}
		if cur == key {
			return idx.slots[i].vid.Load(), true
		}
		i = (i + 1) & idx.mask
	}
	return 0, false
}

/*
Insert assigns the next vid to key and publishes the mapping. Returns
storeerr.ErrDuplicateKey if key is already present, or
storeerr.ErrCapacityExceeded if max_vertex_num vids are already assigned or
the backing table has no empty slot left on the probe sequence.
*/
func (idx *Indexer) Insert(key int64) (uint32, error) {
	if key == EmptyKey {
		return 0, storeerr.New(storeerr.ErrSchema, "key equals reserved empty sentinel")
	}

	start := hash(key) & idx.mask
	i := start

	var vid uint32
	vidAllocated := false

	for probes := uint64(0); probes <= idx.mask; probes++ {
		cur := idx.slots[i].key.Load()

		if cur == key {
			return 0, storeerr.New(storeerr.ErrDuplicateKey, "")
		}

		if cur == EmptyKey {
			if !vidAllocated {
				v := idx.nextVid.Add(1) - 1
				if v >= idx.capacity {
					idx.nextVid.Add(^uint32(0)) // undo: subtract 1
					return 0, storeerr.New(storeerr.ErrCapacityExceeded, "max_vertex_num reached")
				}
				vid = v
				vidAllocated = true
			}

			idx.slots[i].vid.Store(vid)
			if idx.slots[i].key.CompareAndSwap(EmptyKey, key) {
				idx.size.Add(1)
				return vid, nil
			}
			// Another insert claimed this slot first; re-examine it.
			continue
		}

		i = (i + 1) & idx.mask
	}

	return 0, storeerr.New(storeerr.ErrCapacityExceeded, "indexer table full")
}

/*
Restore re-publishes a (key, vid) mapping recovered from a snapshot or WAL
replay, bypassing Insert's own vid allocation since the vid is already
fixed by the recovered state. Advances nextVid past vid if necessary so
later Insert calls never reissue it. Recovery-only: not safe to call
concurrently with Insert/Lookup.
*/
func (idx *Indexer) Restore(key int64, vid uint32) error {
	if key == EmptyKey {
		return storeerr.New(storeerr.ErrSchema, "key equals reserved empty sentinel")
	}

	i := hash(key) & idx.mask
	for probes := uint64(0); probes <= idx.mask; probes++ {
		cur := idx.slots[i].key.Load()
		if cur == key {
			return storeerr.New(storeerr.ErrDuplicateKey, "")
		}
		if cur == EmptyKey {
			idx.slots[i].vid.Store(vid)
			idx.slots[i].key.Store(key)
			idx.size.Add(1)
			if next := vid + 1; next > idx.nextVid.Load() {
				idx.nextVid.Store(next)
			}
			return nil
		}
		i = (i + 1) & idx.mask
	}

	return storeerr.New(storeerr.ErrCapacityExceeded, "indexer table full")
}

/*
Size returns the number of entries currently published.
*/
func (idx *Indexer) Size() uint32 {
	return idx.size.Load()
}

/*
Entry is one (key, vid) pair yielded by SnapshotIter.
*/
type Entry struct {
	Key int64
	Vid uint32
}

/*
SnapshotIter calls fn for every published (key, vid) pair, in slot order.
Used by the persistence layer to dump the indexer extent; not safe to
interleave with concurrent Insert in a way that requires a consistent
point-in-time view (it observes each slot independently), which matches
how the writer-exclusive snapshot path uses it (no concurrent writer during
dump).
*/
func (idx *Indexer) SnapshotIter(fn func(Entry)) {
	for i := range idx.slots {
		key := idx.slots[i].key.Load()
		if key != EmptyKey {
			fn(Entry{Key: key, Vid: idx.slots[i].vid.Load()})
		}
	}
}
