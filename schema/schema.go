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
Package schema holds the immutable description of a graph's vertex and edge
types, loaded once at graph open and never mutated afterwards.

PrimitiveType

Each vertex property has a PrimitiveType. All but String have a fixed
encoded width; String is stored as an (offset, length) pair into a
per-column blob heap.

Strategy

Strategy controls how an adjacency list for one (triplet, direction) is
stored: None drops edges of that shape entirely, Single keeps at most one
record and overwrites in place, Multiple grows without bound.
*/
package schema

import (
	"fmt"

	"github.com/krotik/graphdb/storeerr"
)

/*
PrimitiveType identifies the on-disk encoding of a vertex property.
*/
type PrimitiveType byte

/*
Primitive type constants, named after the schema document's
`primitive_type` field (spec §6).
*/
const (
	DTInvalid PrimitiveType = iota
	DTSignedInt32
	DTSignedInt64
	DTUnsignedInt32
	DTUnsignedInt64
	DTDouble
	DTBool
	DTDate
	DTString
)

/*
Width returns the fixed encoded width in bytes for fixed-width types, and 0
for String (which is stored as an (offset uint64, length uint32) pair - see
StringSlotWidth).
*/
func (t PrimitiveType) Width() int {
	switch t {
	case DTSignedInt32, DTUnsignedInt32:
		return 4
	case DTSignedInt64, DTUnsignedInt64, DTDouble, DTDate:
		return 8
	case DTBool:
		return 1
	case DTString:
		return 0
	}
	return -1
}

/*
StringSlotWidth is the width in bytes of a string column's (offset,length)
slot: an 8 byte offset into the blob heap plus a 4 byte length.
*/
const StringSlotWidth = 12

/*
String returns a human readable name for the primitive type.
*/
func (t PrimitiveType) String() string {
	switch t {
	case DTSignedInt32:
		return "DT_SIGNED_INT32"
	case DTSignedInt64:
		return "DT_SIGNED_INT64"
	case DTUnsignedInt32:
		return "DT_UNSIGNED_INT32"
	case DTUnsignedInt64:
		return "DT_UNSIGNED_INT64"
	case DTDouble:
		return "DT_DOUBLE"
	case DTBool:
		return "DT_BOOL"
	case DTDate:
		return "DT_DATE"
	case DTString:
		return "DT_STRING"
	}
	return "DT_INVALID"
}

/*
ParsePrimitiveType parses the schema document's string spelling of a
primitive type.
*/
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "DT_SIGNED_INT32":
		return DTSignedInt32, nil
	case "DT_SIGNED_INT64":
		return DTSignedInt64, nil
	case "DT_UNSIGNED_INT32":
		return DTUnsignedInt32, nil
	case "DT_UNSIGNED_INT64":
		return DTUnsignedInt64, nil
	case "DT_DOUBLE":
		return DTDouble, nil
	case "DT_BOOL":
		return DTBool, nil
	case "DT_DATE":
		return DTDate, nil
	case "DT_STRING":
		return DTString, nil
	}
	return DTInvalid, storeerr.New(storeerr.ErrSchema, fmt.Sprintf("unknown primitive_type %q", s))
}

/*
Strategy is a per-direction edge storage policy.
*/
type Strategy byte

const (
	// StrategyNone drops edges of this shape; the insert is a silent no-op.
	StrategyNone Strategy = iota
	// StrategySingle keeps at most one record; a second insert overwrites.
	StrategySingle
	// StrategyMultiple grows the adjacency list without bound.
	StrategyMultiple
)

/*
ParseStrategy parses the schema document's string spelling of a strategy.
Defaults to StrategyMultiple for the empty string, matching spec §6.
*/
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "Multiple":
		return StrategyMultiple, nil
	case "Single":
		return StrategySingle, nil
	case "None":
		return StrategyNone, nil
	}
	return StrategyNone, storeerr.New(storeerr.ErrSchema, fmt.Sprintf("unknown edge strategy %q", s))
}

/*
Cardinality is the relation cardinality of a (source label, destination
label) edge triplet.
*/
type Cardinality byte

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

/*
ParseCardinality parses the schema document's string spelling of a relation.
*/
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "ONE_TO_ONE":
		return OneToOne, nil
	case "ONE_TO_MANY":
		return OneToMany, nil
	case "MANY_TO_ONE":
		return ManyToOne, nil
	case "MANY_TO_MANY":
		return ManyToMany, nil
	}
	return 0, storeerr.New(storeerr.ErrSchema, fmt.Sprintf("unknown relation %q", s))
}

/*
DefaultMaxVertexNum is used when a vertex type's x_csr_params.max_vertex_num
is omitted, per spec §6.

spec §6 documents 2^48 as the default, a figure that only makes sense for
a vertex type whose capacity structures are virtual-memory reservations
like table.Column's (only touched pages occupy physical memory). The
LF-Indexer (package indexer) is not: it is a dense in-RAM open-addressed
table sized once at open from max_vertex_num, per spec §4.2's own
"sized once... resize policy: none". Using 2^48 there would try to
allocate an array with room for 2^49 slots before a single vertex is ever
inserted. DefaultMaxVertexNum is therefore set to a value the dense
indexer can actually back; callers with a larger, known vertex count
should set x_csr_params.max_vertex_num explicitly, up to
MaxPracticalVertexNum.
*/
const DefaultMaxVertexNum = uint64(1) << 16

/*
MaxPracticalVertexNum is the largest max_vertex_num Validate accepts. Above
this, indexer.New's dense table (2*max_vertex_num slots, each 16 bytes)
would reserve many gigabytes before the graph holds a single vertex;
graphs needing more vertices than this should be split across multiple
Fragments rather than grown past one dense indexer.
*/
const MaxPracticalVertexNum = uint64(1) << 26

/*
Property describes a single vertex property column.
*/
type Property struct {
	ID   int
	Name string
	Type PrimitiveType
}

/*
VertexType describes one vertex label.
*/
type VertexType struct {
	Name          string
	Properties    []Property // Properties[0] is always the primary key
	MaxVertexNum  uint64
}

/*
PrimaryKey returns the primary key property, which is always column 0.
*/
func (v *VertexType) PrimaryKey() Property {
	return v.Properties[0]
}

/*
Triplet is one allowed (source label, destination label) shape for an edge
label, together with its cardinality and per-direction storage strategy.
*/
type Triplet struct {
	Source      string
	Destination string
	Cardinality Cardinality

	OutgoingStrategy Strategy
	IncomingStrategy Strategy

	// PropertyType is the type of the single optional edge property, or
	// DTInvalid if this triplet carries no edge property.
	PropertyType PrimitiveType
}

/*
EdgeType describes one edge label and all (source,destination) shapes it is
allowed to connect.
*/
type EdgeType struct {
	Name     string
	Triplets []Triplet
}

/*
Schema is the immutable description of a graph's vertex and edge types.
Built once (by LoadYAML or directly) and never mutated after a graph is
opened against it.
*/
type Schema struct {
	Name      string
	StoreType string
	Vertices  []VertexType
	Edges     []EdgeType

	vertexIndex map[string]int
	edgeIndex   map[string]int
}

/*
Index builds the name lookup tables used by VertexByName/EdgeByName. Called
automatically by Validate; exported so callers constructing a Schema by hand
(e.g. in tests) can skip LoadYAML/Validate and just call Index.
*/
func (s *Schema) Index() {
	s.vertexIndex = make(map[string]int, len(s.Vertices))
	for i, v := range s.Vertices {
		s.vertexIndex[v.Name] = i
	}
	s.edgeIndex = make(map[string]int, len(s.Edges))
	for i, e := range s.Edges {
		s.edgeIndex[e.Name] = i
	}
}

/*
VertexByName looks up a vertex type by name.
*/
func (s *Schema) VertexByName(name string) (*VertexType, bool) {
	i, ok := s.vertexIndex[name]
	if !ok {
		return nil, false
	}
	return &s.Vertices[i], true
}

/*
EdgeByName looks up an edge type by name.
*/
func (s *Schema) EdgeByName(name string) (*EdgeType, bool) {
	i, ok := s.edgeIndex[name]
	if !ok {
		return nil, false
	}
	return &s.Edges[i], true
}

/*
TripletFor returns the Triplet for (edgeLabel, srcLabel, dstLabel), if the
schema allows it.
*/
func (e *EdgeType) TripletFor(srcLabel, dstLabel string) (*Triplet, bool) {
	for i := range e.Triplets {
		if e.Triplets[i].Source == srcLabel && e.Triplets[i].Destination == dstLabel {
			return &e.Triplets[i], true
		}
	}
	return nil, false
}

/*
Validate checks the schema for the invariants the core relies on: a single
DT_SIGNED_INT64 primary key per vertex type, a positive max_vertex_num, and
edge triplets that only reference declared vertex labels. Returns a
*storeerr.Error wrapping ErrSchema on the first violation found.
*/
func (s *Schema) Validate() error {
	if s.StoreType != "" && s.StoreType != "mutable_csr" {
		return storeerr.New(storeerr.ErrSchema, fmt.Sprintf("unsupported store_type %q", s.StoreType))
	}

	seenVertex := make(map[string]bool, len(s.Vertices))
	for _, v := range s.Vertices {
		if len(v.Properties) == 0 {
			return storeerr.New(storeerr.ErrSchema, fmt.Sprintf("vertex type %q has no properties", v.Name))
		}
		if v.Properties[0].Type != DTSignedInt64 {
			return storeerr.New(storeerr.ErrSchema,
				fmt.Sprintf("vertex type %q primary key must be DT_SIGNED_INT64", v.Name))
		}
		if v.MaxVertexNum == 0 {
			return storeerr.New(storeerr.ErrSchema,
				fmt.Sprintf("vertex type %q has zero max_vertex_num", v.Name))
		}
		if v.MaxVertexNum > MaxPracticalVertexNum {
			return storeerr.New(storeerr.ErrSchema,
				fmt.Sprintf("vertex type %q max_vertex_num %d exceeds MaxPracticalVertexNum %d",
					v.Name, v.MaxVertexNum, MaxPracticalVertexNum))
		}
		if seenVertex[v.Name] {
			return storeerr.New(storeerr.ErrSchema, fmt.Sprintf("duplicate vertex type %q", v.Name))
		}
		seenVertex[v.Name] = true
	}

	for _, e := range s.Edges {
		for _, t := range e.Triplets {
			if !seenVertex[t.Source] {
				return storeerr.New(storeerr.ErrSchema,
					fmt.Sprintf("edge type %q references unknown source vertex %q", e.Name, t.Source))
			}
			if !seenVertex[t.Destination] {
				return storeerr.New(storeerr.ErrSchema,
					fmt.Sprintf("edge type %q references unknown destination vertex %q", e.Name, t.Destination))
			}
		}
	}

	s.Index()

	return nil
}
