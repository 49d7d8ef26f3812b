/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package table

import (
	"sync"
	"sync/atomic"

	"github.com/krotik/graphdb/storeerr"
)

/*
DefaultBlobCapacity is the default reservation size for a string column's
blob heap.
*/
const DefaultBlobCapacity = 64 << 20 // 64 MiB

/*
BlobHeap is the append-only byte heap a string column's (offset, length)
slots point into. Append-only: once written, a byte range at a given offset
is never modified or moved, so a reader holding an (offset, length) pair
read at any point in time may safely read it back later without
re-validating it against concurrent heap growth.
*/
type BlobHeap struct {
	extent *Extent
	cursor atomic.Uint64 // next free offset

	mu sync.Mutex // serializes Append; the writer is single-threaded anyway
}

/*
NewBlobHeap reserves an anonymous or file-backed blob heap of the given
capacity.
*/
func NewBlobHeap(path string, capacity int64) (*BlobHeap, error) {
	ext, err := NewExtent(path, capacity)
	if err != nil {
		return nil, err
	}
	return &BlobHeap{extent: ext}, nil
}

/*
Append writes data to the heap and returns its (offset, length).
*/
func (b *BlobHeap) Append(data []byte) (offset uint64, length uint32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := b.cursor.Load()
	if off+uint64(len(data)) > uint64(len(b.extent.Bytes())) {
		return 0, 0, storeerr.New(storeerr.ErrCapacityExceeded, "blob heap full")
	}

	copy(b.extent.Bytes()[off:], data)
	b.cursor.Store(off + uint64(len(data)))

	return off, uint32(len(data)), nil
}

/*
Read returns a copy of the bytes at (offset, length). A copy is returned
rather than a slice into the extent so callers cannot observe a future
in-place change even though the heap never performs one today.
*/
func (b *BlobHeap) Read(offset uint64, length uint32) []byte {
	out := make([]byte, length)
	copy(out, b.extent.Bytes()[offset:offset+uint64(length)])
	return out
}

/*
Flush persists the heap's dirty pages.
*/
func (b *BlobHeap) Flush() error {
	return b.extent.Flush()
}

/*
Close unmaps the heap's extent.
*/
func (b *BlobHeap) Close() error {
	return b.extent.Close()
}
