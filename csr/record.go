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
Package csr implements the Mutable CSR of spec §4.4: one growable adjacency
list per source vertex, for a single (src-label, edge-label, dst-label,
direction) triplet.

Record layout

Each adjacency list is a packed row-wise array of
(neighbor_vid uint32, timestamp uint64, [edge_prop]) records. Fixed-width
properties are encoded in place; a string property is stored as an
(offset, length) pair into the CSR's own blob heap, mirroring how
table.Column handles string columns.
*/
package csr

import (
	"encoding/binary"
	"math"

	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/table"
)

/*
Record is one decoded adjacency list entry.
*/
type Record struct {
	Neighbor  uint32
	Timestamp uint64
	Prop      interface{} // nil if the triplet carries no edge property
}

/*
codec knows how to encode/decode Records for one CSR's configured edge
property type.
*/
type codec struct {
	propType  schema.PrimitiveType
	propWidth int
	width     int
}

func newCodec(propType schema.PrimitiveType) codec {
	w := 0
	switch propType {
	case schema.DTInvalid:
		w = 0
	case schema.DTString:
		w = schema.StringSlotWidth
	default:
		w = propType.Width()
	}
	return codec{propType: propType, propWidth: w, width: 12 + w}
}

func (c codec) encode(buf []byte, r Record, blob *table.BlobHeap) error {
	binary.LittleEndian.PutUint32(buf[0:4], r.Neighbor)
	binary.LittleEndian.PutUint64(buf[4:12], r.Timestamp)

	if c.propType == schema.DTInvalid {
		return nil
	}

	propBuf := buf[12:12+c.propWidth]

	switch c.propType {
	case schema.DTSignedInt32:
		binary.LittleEndian.PutUint32(propBuf, uint32(r.Prop.(int32)))
	case schema.DTSignedInt64:
		binary.LittleEndian.PutUint64(propBuf, uint64(r.Prop.(int64)))
	case schema.DTUnsignedInt32:
		binary.LittleEndian.PutUint32(propBuf, r.Prop.(uint32))
	case schema.DTUnsignedInt64:
		binary.LittleEndian.PutUint64(propBuf, r.Prop.(uint64))
	case schema.DTDouble:
		binary.LittleEndian.PutUint64(propBuf, math.Float64bits(r.Prop.(float64)))
	case schema.DTBool:
		b := byte(0)
		if r.Prop.(bool) {
			b = 1
		}
		propBuf[0] = b
	case schema.DTDate:
		binary.LittleEndian.PutUint64(propBuf, uint64(r.Prop.(int64)))
	case schema.DTString:
		s := r.Prop.(string)
		off, length, err := blob.Append([]byte(s))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(propBuf[0:8], off)
		binary.LittleEndian.PutUint32(propBuf[8:12], length)
	}

	return nil
}

func (c codec) decode(buf []byte, blob *table.BlobHeap) Record {
	r := Record{
		Neighbor:  binary.LittleEndian.Uint32(buf[0:4]),
		Timestamp: binary.LittleEndian.Uint64(buf[4:12]),
	}

	if c.propType == schema.DTInvalid {
		return r
	}

	propBuf := buf[12:12+c.propWidth]

	switch c.propType {
	case schema.DTSignedInt32:
		r.Prop = int32(binary.LittleEndian.Uint32(propBuf))
	case schema.DTSignedInt64:
		r.Prop = int64(binary.LittleEndian.Uint64(propBuf))
	case schema.DTUnsignedInt32:
		r.Prop = binary.LittleEndian.Uint32(propBuf)
	case schema.DTUnsignedInt64:
		r.Prop = binary.LittleEndian.Uint64(propBuf)
	case schema.DTDouble:
		r.Prop = math.Float64frombits(binary.LittleEndian.Uint64(propBuf))
	case schema.DTBool:
		r.Prop = propBuf[0] != 0
	case schema.DTDate:
		r.Prop = int64(binary.LittleEndian.Uint64(propBuf))
	case schema.DTString:
		off := binary.LittleEndian.Uint64(propBuf[0:8])
		length := binary.LittleEndian.Uint32(propBuf[8:12])
		r.Prop = string(blob.Read(off, length))
	}

	return r
}
