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
Package fragment implements the Fragment of spec §4.5: the glue component
that composes a Schema with the per-label LF-Indexers and Tables and the
per-(triplet,direction) Mutable CSRs into one graph instance, and exposes
the point-read and traversal API.

Fragment itself has no notion of transactions or timestamps beyond
LatestPublishedTs, the single atomic the transaction layer (package txn)
publishes through: readers filter by it, the writer advances it at commit.
Fragment's own methods do not take a writer lock - that exclusivity is the
transaction layer's job (spec §4.6); Fragment assumes its caller already
holds whatever exclusivity the operation requires.
*/
package fragment

import (
	"fmt"
	"sync/atomic"

	"github.com/krotik/graphdb/arena"
	"github.com/krotik/graphdb/csr"
	"github.com/krotik/graphdb/indexer"
	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/storeerr"
	"github.com/krotik/graphdb/table"
)

/*
Direction is one of the two adjacency directions a triplet stores.
*/
type Direction byte

const (
	Outgoing Direction = iota
	Incoming
)

/*
EndpointMode controls how AddEdge handles a missing endpoint.
*/
type EndpointMode byte

const (
	// Strict rejects missing endpoints with storeerr.ErrUnknownVertex.
	Strict EndpointMode = iota
	// Upsert creates missing endpoints with null non-primary properties.
	Upsert
)

type tripletKey struct {
	edgeLabel string
	srcLabel  string
	dstLabel  string
	dir       Direction
}

/*
vertexNumCapacity narrows a vertex type's max_vertex_num to the uint32 a
CSR source array is indexed by. A checked conversion, not a truncation:
schema.Validate already rejects anything above schema.MaxPracticalVertexNum
(well under math.MaxUint32) for schemas loaded through LoadYAML, but Open
also accepts hand-built *schema.Schema values that skipped Validate, so
this is the last line of defense against silently sizing a CSR for zero
sources.
*/
func vertexNumCapacity(maxVertexNum uint64) (uint32, error) {
	if maxVertexNum > uint64(^uint32(0)) {
		return 0, storeerr.New(storeerr.ErrSchema,
			fmt.Sprintf("max_vertex_num %d exceeds the maximum representable CSR capacity %d",
				maxVertexNum, ^uint32(0)))
	}
	return uint32(maxVertexNum), nil
}

/*
Fragment is the composite graph instance.
*/
type Fragment struct {
	Schema *schema.Schema

	arena *arena.Arena

	indexers map[string]*vlIndexer
	csrs     map[tripletKey]*csr.CSR

	latestPublishedTs atomic.Uint64
}

type vlIndexer struct {
	idx *indexer.Indexer
	tbl *table.Table
}

/*
Open builds a Fragment for s, reserving a Table, LF-Indexer, and the CSRs
for every declared triplet/direction. dir, if non-empty, backs every
Table column extent (and string blob heap) with files in that directory (see
package persist for the snapshot format); CSR buffers, and the blob heap of
a CSR with a string edge property, are always anonymous. Pass "" for an
anonymous, non-durable Fragment.
*/
func Open(s *schema.Schema, dir string) (*Fragment, error) {
	f := &Fragment{
		Schema:   s,
		arena:    arena.New(),
		indexers: make(map[string]*vlIndexer, len(s.Vertices)),
		csrs:     make(map[tripletKey]*csr.CSR),
	}

	maxVertexNum := make(map[string]uint32, len(s.Vertices))
	for i := range s.Vertices {
		vt := &s.Vertices[i]

		n, err := vertexNumCapacity(vt.MaxVertexNum)
		if err != nil {
			return nil, err
		}
		maxVertexNum[vt.Name] = n

		tbl, err := table.NewTable(dir, vt)
		if err != nil {
			return nil, err
		}

		f.indexers[vt.Name] = &vlIndexer{
			idx: indexer.New(vt.MaxVertexNum),
			tbl: tbl,
		}
	}

	for i := range s.Edges {
		et := &s.Edges[i]
		for j := range et.Triplets {
			tr := &et.Triplets[j]

			outKey := tripletKey{et.Name, tr.Source, tr.Destination, Outgoing}
			outCSR, err := csr.New(f.arena, maxVertexNum[tr.Source], tr.OutgoingStrategy, tr.PropertyType, "")
			if err != nil {
				return nil, err
			}
			f.csrs[outKey] = outCSR

			inKey := tripletKey{et.Name, tr.Source, tr.Destination, Incoming}
			inCSR, err := csr.New(f.arena, maxVertexNum[tr.Destination], tr.IncomingStrategy, tr.PropertyType, "")
			if err != nil {
				return nil, err
			}
			f.csrs[inKey] = inCSR
		}
	}

	return f, nil
}

/*
LatestPublishedTs returns the highest commit timestamp currently visible to
new readers.
*/
func (f *Fragment) LatestPublishedTs() uint64 {
	return f.latestPublishedTs.Load()
}

/*
PublishTs advances the visible timestamp. Called only by the transaction
layer at commit, under the writer mutex.
*/
func (f *Fragment) PublishTs(ts uint64) {
	f.latestPublishedTs.Store(ts)
}

/*
Arena returns the Fragment's shared epoch-based allocator, for readers to
enter/leave an epoch around their observation window.
*/
func (f *Fragment) Arena() *arena.Arena {
	return f.arena
}

func (f *Fragment) vl(label string) (*vlIndexer, error) {
	vl, ok := f.indexers[label]
	if !ok {
		return nil, storeerr.New(storeerr.ErrSchema, "unknown vertex label "+label)
	}
	return vl, nil
}

/*
Indexer returns the LF-Indexer backing label, for the persistence layer's
snapshot dump/load. Not part of the query API.
*/
func (f *Fragment) Indexer(label string) (*indexer.Indexer, error) {
	vl, err := f.vl(label)
	if err != nil {
		return nil, err
	}
	return vl.idx, nil
}

/*
RestoreVertex re-publishes a (key, vid) mapping recovered from a snapshot
or WAL replay, without re-running add_vertex's own vid allocation (the vid
is already fixed by the recovered state). Writer/recovery-only.
*/
func (f *Fragment) RestoreVertex(label string, key int64, vid uint32) error {
	vl, err := f.vl(label)
	if err != nil {
		return err
	}
	return vl.idx.Restore(key, vid)
}

/*
TripletKeys enumerates every (edgeLabel, srcLabel, dstLabel, direction)
this Fragment holds a CSR for, for the persistence layer to iterate over.
*/
func (f *Fragment) TripletKeys() []TripletKeyView {
	keys := make([]TripletKeyView, 0, len(f.csrs))
	for k := range f.csrs {
		keys = append(keys, TripletKeyView{EdgeLabel: k.edgeLabel, SrcLabel: k.srcLabel, DstLabel: k.dstLabel, Dir: k.dir})
	}
	return keys
}

/*
TripletKeyView is the exported projection of tripletKey for callers outside
this package (the internal type stays unexported since its zero value and
field order are an implementation detail).
*/
type TripletKeyView struct {
	EdgeLabel string
	SrcLabel  string
	DstLabel  string
	Dir       Direction
}

/*
CSRFor returns the adjacency structure for one (edgeLabel, srcLabel,
dstLabel, direction) key, for the persistence layer's snapshot dump/load.
*/
func (f *Fragment) CSRFor(edgeLabel, srcLabel, dstLabel string, dir Direction) *csr.CSR {
	return f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, dir}]
}

/*
VertexLabels returns every declared vertex label, in schema order.
*/
func (f *Fragment) VertexLabels() []string {
	labels := make([]string, len(f.Schema.Vertices))
	for i, vt := range f.Schema.Vertices {
		labels[i] = vt.Name
	}
	return labels
}

/*
FlushTables forces every vertex label's property columns to durable
storage, for the persist package to call at checkpoint time right after
dumping indexer/CSR state. A no-op per column for anonymous (non-durable)
Fragments, since table.Column.Flush is itself a no-op without a backing
file.
*/
func (f *Fragment) FlushTables() error {
	for _, label := range f.VertexLabels() {
		vl, err := f.vl(label)
		if err != nil {
			return err
		}
		if err := vl.tbl.Flush(); err != nil {
			return err
		}
	}
	return nil
}

/*
GetVertex returns the vid mapped to key under label, if any.
*/
func (f *Fragment) GetVertex(label string, key int64) (uint32, bool, error) {
	vl, err := f.vl(label)
	if err != nil {
		return 0, false, err
	}
	vid, ok := vl.idx.Lookup(key)
	return vid, ok, nil
}

/*
GetProperty returns the value of column col at vid under label.
*/
func (f *Fragment) GetProperty(label string, vid uint32, col int) (interface{}, error) {
	vl, err := f.vl(label)
	if err != nil {
		return nil, err
	}
	return vl.tbl.Get(col, vid)
}

/*
VertexNum returns the number of vertices currently assigned under label.
*/
func (f *Fragment) VertexNum(label string) (uint32, error) {
	vl, err := f.vl(label)
	if err != nil {
		return 0, err
	}
	return vl.idx.Size(), nil
}

/*
AddVertex assigns a new vid for key under label and writes props (keyed by
property name). Column 0 is always written from key; an entry in props under
the primary key's name is ignored, and properties absent from props keep the
column's zero value. Writer-only.
*/
func (f *Fragment) AddVertex(label string, key int64, props map[string]interface{}) (uint32, error) {
	vl, err := f.vl(label)
	if err != nil {
		return 0, err
	}

	vt, _ := f.Schema.VertexByName(label)

	vid, err := vl.idx.Insert(key)
	if err != nil {
		return 0, err
	}

	for i, p := range vt.Properties {
		if i == 0 {
			if err := vl.tbl.Set(0, vid, key); err != nil {
				return vid, err
			}
			continue
		}
		val, ok := props[p.Name]
		if !ok {
			continue // left at the column extent's zero value
		}
		if err := vl.tbl.Set(i, vid, val); err != nil {
			return vid, err
		}
	}

	return vid, nil
}

/*
SetProperty overwrites an existing vertex's column value (UpdateTransaction
only; see spec §4.6's documented weakening of MVCC for vertex updates).
*/
func (f *Fragment) SetProperty(label string, vid uint32, col int, val interface{}) error {
	vl, err := f.vl(label)
	if err != nil {
		return err
	}
	return vl.tbl.Set(col, vid, val)
}

/*
edgeTriplet resolves the Triplet and both directions' CSRs for an edge
label between two vertex labels.
*/
func (f *Fragment) edgeTriplet(edgeLabel, srcLabel, dstLabel string) (*schema.Triplet, *csr.CSR, *csr.CSR, error) {
	et, ok := f.Schema.EdgeByName(edgeLabel)
	if !ok {
		return nil, nil, nil, storeerr.New(storeerr.ErrSchema, "unknown edge label "+edgeLabel)
	}
	tr, ok := et.TripletFor(srcLabel, dstLabel)
	if !ok {
		return nil, nil, nil, storeerr.New(storeerr.ErrSchema,
			"edge label "+edgeLabel+" does not connect "+srcLabel+" to "+dstLabel)
	}

	out := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, Outgoing}]
	in := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, Incoming}]

	return tr, out, in, nil
}

/*
resolveEndpoint looks up key under label, creating it (with null
non-primary properties) under mode == Upsert if missing.
*/
func (f *Fragment) resolveEndpoint(label string, key int64, mode EndpointMode) (uint32, error) {
	vl, err := f.vl(label)
	if err != nil {
		return 0, err
	}

	if vid, ok := vl.idx.Lookup(key); ok {
		return vid, nil
	}

	if mode == Strict {
		return 0, storeerr.New(storeerr.ErrUnknownVertex, label)
	}

	return f.AddVertex(label, key, nil)
}

/*
AddEdge records an edge from (srcLabel, srcKey) to (dstLabel, dstKey) under
edgeLabel, carrying prop and timestamp ts, as two CSR inserts (outgoing on
the source, incoming on the destination) sharing ts. Writer-only.
*/
func (f *Fragment) AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64,
	prop interface{}, ts uint64, mode EndpointMode) error {

	_, out, in, err := f.edgeTriplet(edgeLabel, srcLabel, dstLabel)
	if err != nil {
		return err
	}

	srcVid, err := f.resolveEndpoint(srcLabel, srcKey, mode)
	if err != nil {
		return err
	}
	dstVid, err := f.resolveEndpoint(dstLabel, dstKey, mode)
	if err != nil {
		return err
	}

	if out != nil {
		if err := out.Insert(srcVid, dstVid, ts, prop); err != nil {
			return err
		}
	}
	if in != nil {
		if err := in.Insert(dstVid, srcVid, ts, prop); err != nil {
			return err
		}
	}

	return nil
}

/*
EdgeRecord is one traversal result: the neighbor vid, its edge property (nil
if the triplet has none), and the edge's commit timestamp.
*/
type EdgeRecord struct {
	Neighbor  uint32
	Prop      interface{}
	Timestamp uint64
}

/*
OutEdges yields every outgoing edge from srcVid under edgeLabel toward
dstLabel with Timestamp <= ts.
*/
func (f *Fragment) OutEdges(srcLabel string, srcVid uint32, edgeLabel, dstLabel string, ts uint64) ([]EdgeRecord, error) {
	_, out, _, err := f.edgeTriplet(edgeLabel, srcLabel, dstLabel)
	if err != nil {
		return nil, err
	}
	return collectEdges(out, srcVid, ts), nil
}

/*
InEdges yields every incoming edge landing on dstVid under edgeLabel from
srcLabel with Timestamp <= ts.
*/
func (f *Fragment) InEdges(srcLabel string, dstLabel string, dstVid uint32, edgeLabel string, ts uint64) ([]EdgeRecord, error) {
	_, _, in, err := f.edgeTriplet(edgeLabel, srcLabel, dstLabel)
	if err != nil {
		return nil, err
	}
	return collectEdges(in, dstVid, ts), nil
}

func collectEdges(c *csr.CSR, vid uint32, ts uint64) []EdgeRecord {
	if c == nil {
		return nil
	}

	var recs []EdgeRecord
	c.EdgesOf(vid, ts, func(r csr.Record) {
		recs = append(recs, EdgeRecord{Neighbor: r.Neighbor, Prop: r.Prop, Timestamp: r.Timestamp})
	})
	return recs
}
