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
	"os"

	"github.com/edsrzf/mmap-go"
)

/*
Extent is a fixed-size virtual memory reservation backing one column or one
blob heap. Sized once at creation; only touched pages occupy physical
memory, which is the point of reserving max_vertex_num*width bytes up
front instead of growing a slice incrementally (spec §4.3).

Pass an empty path for an anonymous, non-durable extent (used by tests and
by any column the caller does not intend to persist); pass a file path to
back the extent with a snapshot file the persistence layer can reopen on
recovery.
*/
type Extent struct {
	file *os.File
	mm   mmap.MMap
}

/*
NewExtent reserves size bytes, either anonymously or backed by the file at
path (created/truncated to size if it doesn't already exist at that size).
*/
func NewExtent(path string, size int64) (*Extent, error) {
	if path == "" {
		mm, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
		if err != nil {
			return nil, err
		}
		return &Extent{mm: mm}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0660)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}

	mm, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Extent{file: f, mm: mm}, nil
}

/*
OpenExtent reopens an existing extent file at its current on-disk size, for
snapshot recovery.
*/
func OpenExtent(path string) (*Extent, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0660)
	if err != nil {
		return nil, err
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Extent{file: f, mm: mm}, nil
}

/*
Bytes returns the extent's backing memory.
*/
func (e *Extent) Bytes() []byte {
	return e.mm
}

/*
Flush forces dirty pages of a file-backed extent to disk. No-op for
anonymous extents.
*/
func (e *Extent) Flush() error {
	if e.file == nil {
		return nil
	}
	return e.mm.Flush()
}

/*
Close unmaps the extent and closes its backing file, if any.
*/
func (e *Extent) Close() error {
	if err := e.mm.Unmap(); err != nil {
		return err
	}
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}
