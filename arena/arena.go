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
Package arena implements the epoch-based buffer allocator of spec §4.1.

A Buffer retired by the writer is not physically freed until every reader
epoch that was active at the time of retirement has left. This gives the
Mutable CSR (package csr) a way to grow an adjacency list's backing buffer
without ever invalidating a pointer a concurrent reader already holds.

The design mirrors the free-list-first, else-grow shape of
storage/slotting.FreePhysicalSlotManager in the teacher: a retired buffer is
first handed to a pending list (like a free physical slot) and only crosses
into the reusable pool once a reclamation pass proves no reader can still
see it.
*/
package arena

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "arena").Logger()

/*
Buffer is a slab of memory handed out by Allocate. Implementations in this
package back Buffer.Data with a plain Go byte slice; the CSR and Table
packages reinterpret it as typed record arrays.
*/
type Buffer struct {
	Data []byte

	retireEpoch uint64 // epoch at which Retire was called, 0 if still live
	pooled      bool   // true if Data came from a size-class pool
	class       int    // size-class index, valid only if pooled
}

/*
Guard delimits one reader's observation window. Obtained from EnterEpoch,
released with LeaveEpoch.
*/
type Guard struct {
	epoch *atomic.Uint64 // this guard's recorded epoch, maxEpoch once left
	next  *Guard         // intrusive lock-free list link
}

// maxEpoch marks a Guard as inactive (left); no live epoch ever reaches it
// because Arena.epoch is a uint64 counter bumped one at a time.
const maxEpoch = ^uint64(0)

/*
Arena is an epoch-reclaimed buffer allocator. Zero value is not usable; use
New.
*/
type Arena struct {
	epoch atomic.Uint64 // bumped before every Retire

	guards atomic.Pointer[Guard] // lock-free stack of registered guards

	mu      sync.Mutex // guards the pending-retirement list only
	pending []*Buffer

	classes []sync.Pool // size-class pools for small power-of-two allocations
}

/*
classCount is the number of power-of-two size classes, from 64 bytes
(class 0) up to 64 * 2^(classCount-1) bytes.
*/
const classCount = 20

/*
New creates an empty Arena.
*/
func New() *Arena {
	a := &Arena{classes: make([]sync.Pool, classCount)}
	for i := range a.classes {
		sz := classSize(i)
		a.classes[i].New = func() interface{} {
			return make([]byte, sz)
		}
	}
	return a
}

func classSize(i int) int {
	return 64 << uint(i)
}

func classFor(n int) int {
	for i := 0; i < classCount; i++ {
		if classSize(i) >= n {
			return i
		}
	}
	return -1
}

/*
Allocate returns a fresh buffer of at least nbytes. Sizes that fit a slab
class are served from that class's pool; larger sizes are allocated
directly.
*/
func (a *Arena) Allocate(nbytes int) *Buffer {
	if c := classFor(nbytes); c >= 0 {
		data := a.classes[c].Get().([]byte)
		if cap(data) < nbytes {
			data = make([]byte, classSize(c))
		}
		return &Buffer{Data: data[:nbytes], pooled: true, class: c}
	}
	return &Buffer{Data: make([]byte, nbytes)}
}

/*
Retire marks buf as no longer reachable by any new reader. Readers that
began observing it before this call (via EnterEpoch) may still hold it; it
is only returned to its pool once Reclaim proves no such reader remains.
*/
func (a *Arena) Retire(buf *Buffer) {
	e := a.epoch.Add(1)
	buf.retireEpoch = e

	a.mu.Lock()
	a.pending = append(a.pending, buf)
	a.mu.Unlock()
}

/*
EnterEpoch begins a reader's observation window and returns a Guard to pass
to LeaveEpoch. No buffer retired during an active guard's window is
physically freed before that guard is left.
*/
func (a *Arena) EnterEpoch() *Guard {
	g := &Guard{epoch: new(atomic.Uint64)}
	g.epoch.Store(a.epoch.Load())

	for {
		head := a.guards.Load()
		g.next = head
		if a.guards.CompareAndSwap(head, g) {
			return g
		}
	}
}

/*
LeaveEpoch ends a reader's observation window. The Guard is left in the
registry (marked inactive) rather than unlinked, since unlinking a
lock-free singly linked stack node safely requires hazard pointers this
package does not implement; an inactive guard costs one atomic load during
the next Reclaim scan and nothing more.
*/
func (a *Arena) LeaveEpoch(g *Guard) {
	g.epoch.Store(maxEpoch)
}

/*
Reclaim frees every pending buffer whose retire epoch predates every
currently active reader's epoch. Safe to call from any goroutine at any
time, including concurrently with EnterEpoch/LeaveEpoch and further
Retire calls; it only ever acts on buffers already snapshotted under
a.mu, so a buffer retired after the snapshot is simply picked up by the
next Reclaim call.
*/
func (a *Arena) Reclaim() {
	minActive := a.minActiveEpoch()

	a.mu.Lock()
	kept := a.pending[:0]
	var toFree []*Buffer
	for _, buf := range a.pending {
		if buf.retireEpoch < minActive {
			toFree = append(toFree, buf)
		} else {
			kept = append(kept, buf)
		}
	}
	a.pending = kept
	a.mu.Unlock()

	for _, buf := range toFree {
		if buf.pooled {
			a.classes[buf.class].Put(buf.Data[:cap(buf.Data)])
		}
	}

	if len(toFree) > 0 {
		log.Debug().Int("freed", len(toFree)).Uint64("min_active_epoch", minActive).Msg("reclaimed retired buffers")
	}
}

/*
minActiveEpoch returns the smallest epoch recorded by any guard that has
not yet left, or the current epoch + 1 if there are none (so everything
pending is eligible for reclamation).
*/
func (a *Arena) minActiveEpoch() uint64 {
	min := a.epoch.Load() + 1

	for g := a.guards.Load(); g != nil; g = g.next {
		e := g.epoch.Load()
		if e != maxEpoch && e < min {
			min = e
		}
	}

	return min
}
