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
Package table implements the columnar vertex property store of spec §4.3:
one fixed-width extent per column, sized to max_vertex_num slots, plus an
append-only blob heap for string columns.
*/
package table

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/storeerr"
)

/*
Column is one fixed-width (or string-indirected) property column over a
virtual-memory extent.
*/
type Column struct {
	prop  schema.Property
	width int
	ext   *Extent
	blob  *BlobHeap // nil unless prop.Type == schema.DTString
}

/*
NewColumn reserves a column extent sized for maxVertexNum rows. dir, if
non-empty, is the directory the column's extent (and blob heap, for string
columns) is backed by on disk; pass "" for an anonymous, non-durable column.
*/
func NewColumn(dir string, label string, prop schema.Property, maxVertexNum uint64) (*Column, error) {
	width := prop.Type.Width()
	if prop.Type == schema.DTString {
		width = schema.StringSlotWidth
	}
	if width <= 0 {
		return nil, storeerr.New(storeerr.ErrSchema, "column has no fixed width")
	}

	var path string
	if dir != "" {
		path = colPath(dir, label, prop.ID)
	}

	ext, err := NewExtent(path, int64(maxVertexNum)*int64(width))
	if err != nil {
		return nil, err
	}

	c := &Column{prop: prop, width: width, ext: ext}

	if prop.Type == schema.DTString {
		var blobPath string
		if dir != "" {
			blobPath = path + ".blob"
		}
		blob, err := NewBlobHeap(blobPath, DefaultBlobCapacity)
		if err != nil {
			return nil, err
		}
		c.blob = blob
	}

	return c, nil
}

func colPath(dir, label string, propID int) string {
	return dir + "/" + label + ".col" + strconv.Itoa(propID)
}

func (c *Column) slot(vid uint32) []byte {
	off := uint64(vid) * uint64(c.width)
	return c.ext.Bytes()[off : off+uint64(c.width)]
}

/*
Set writes val at row vid. Writer-only: readers never call Set.
*/
func (c *Column) Set(vid uint32, val interface{}) error {
	switch c.prop.Type {
	case schema.DTSignedInt32:
		binary.LittleEndian.PutUint32(c.slot(vid), uint32(val.(int32)))
	case schema.DTSignedInt64:
		binary.LittleEndian.PutUint64(c.slot(vid), uint64(val.(int64)))
	case schema.DTUnsignedInt32:
		binary.LittleEndian.PutUint32(c.slot(vid), val.(uint32))
	case schema.DTUnsignedInt64:
		binary.LittleEndian.PutUint64(c.slot(vid), val.(uint64))
	case schema.DTDouble:
		binary.LittleEndian.PutUint64(c.slot(vid), math.Float64bits(val.(float64)))
	case schema.DTBool:
		b := byte(0)
		if val.(bool) {
			b = 1
		}
		c.slot(vid)[0] = b
	case schema.DTDate:
		binary.LittleEndian.PutUint64(c.slot(vid), uint64(val.(int64)))
	case schema.DTString:
		s := val.(string)
		off, length, err := c.blob.Append([]byte(s))
		if err != nil {
			return err
		}
		slot := c.slot(vid)
		binary.LittleEndian.PutUint64(slot[0:8], off)
		binary.LittleEndian.PutUint32(slot[8:12], length)
	default:
		return storeerr.New(storeerr.ErrSchema, "unsupported column type")
	}
	return nil
}

/*
Get reads row vid, dispatching on the column's declared primitive type.
*/
func (c *Column) Get(vid uint32) interface{} {
	slot := c.slot(vid)
	switch c.prop.Type {
	case schema.DTSignedInt32:
		return int32(binary.LittleEndian.Uint32(slot))
	case schema.DTSignedInt64:
		return int64(binary.LittleEndian.Uint64(slot))
	case schema.DTUnsignedInt32:
		return binary.LittleEndian.Uint32(slot)
	case schema.DTUnsignedInt64:
		return binary.LittleEndian.Uint64(slot)
	case schema.DTDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(slot))
	case schema.DTBool:
		return slot[0] != 0
	case schema.DTDate:
		return int64(binary.LittleEndian.Uint64(slot))
	case schema.DTString:
		off := binary.LittleEndian.Uint64(slot[0:8])
		length := binary.LittleEndian.Uint32(slot[8:12])
		return string(c.blob.Read(off, length))
	}
	return nil
}

/*
Flush persists the column's (and, for string columns, its blob heap's)
dirty pages.
*/
func (c *Column) Flush() error {
	if err := c.ext.Flush(); err != nil {
		return err
	}
	if c.blob != nil {
		return c.blob.Flush()
	}
	return nil
}

/*
Close unmaps the column's extent(s).
*/
func (c *Column) Close() error {
	if c.blob != nil {
		c.blob.Close()
	}
	return c.ext.Close()
}
