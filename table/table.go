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
	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/storeerr"
)

/*
Table holds one vertex label's columns, each over its own extent. Column 0
is always the primary key (duplicated into the LF-Indexer's reverse
mapping, per spec §3's "implicitly as column 0 of the Table").
*/
type Table struct {
	Label        string
	MaxVertexNum uint64
	Columns      []*Column

	byName map[string]int
}

/*
NewTable reserves one extent per property in vt. dir is the snapshot
directory to back the columns with, or "" for an anonymous, non-durable
table (used by tests).
*/
func NewTable(dir string, vt *schema.VertexType) (*Table, error) {
	t := &Table{
		Label:        vt.Name,
		MaxVertexNum: vt.MaxVertexNum,
		byName:       make(map[string]int, len(vt.Properties)),
	}

	for i, prop := range vt.Properties {
		col, err := NewColumn(dir, vt.Name, prop, vt.MaxVertexNum)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, col)
		t.byName[prop.Name] = i
	}

	return t, nil
}

/*
ColumnIndex returns the column index for a property name.
*/
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

/*
Get returns the value at (col, vid).
*/
func (t *Table) Get(col int, vid uint32) (interface{}, error) {
	if col < 0 || col >= len(t.Columns) {
		return nil, storeerr.New(storeerr.ErrSchema, "column index out of range")
	}
	if uint64(vid) >= t.MaxVertexNum {
		return nil, storeerr.New(storeerr.ErrCapacityExceeded, "vid out of range")
	}
	return t.Columns[col].Get(vid), nil
}

/*
Set writes the value at (col, vid). Writer-only.
*/
func (t *Table) Set(col int, vid uint32, val interface{}) error {
	if col < 0 || col >= len(t.Columns) {
		return storeerr.New(storeerr.ErrSchema, "column index out of range")
	}
	if uint64(vid) >= t.MaxVertexNum {
		return storeerr.New(storeerr.ErrCapacityExceeded, "vid out of range")
	}
	return t.Columns[col].Set(vid, val)
}

/*
IterColumn calls fn(vid, value) for every row 0..n-1 of the column, in vid
order.
*/
func (t *Table) IterColumn(col int, n uint32, fn func(vid uint32, val interface{})) error {
	if col < 0 || col >= len(t.Columns) {
		return storeerr.New(storeerr.ErrSchema, "column index out of range")
	}
	for vid := uint32(0); vid < n; vid++ {
		fn(vid, t.Columns[col].Get(vid))
	}
	return nil
}

/*
Flush persists every column's dirty pages.
*/
func (t *Table) Flush() error {
	for _, c := range t.Columns {
		if err := c.Flush(); err != nil {
			return err
		}
	}
	return nil
}

/*
Close unmaps every column's extent(s).
*/
func (t *Table) Close() error {
	var first error
	for _, c := range t.Columns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
