/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package persist

import (
	"testing"

	"github.com/google/uuid"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/schema"
)

func testSnapshotSchema(maxVertexNum uint64) *schema.Schema {
	s := &schema.Schema{
		Name: "test",
		Vertices: []schema.VertexType{
			{
				Name: "person",
				Properties: []schema.Property{
					{ID: 0, Name: "id", Type: schema.DTSignedInt64},
					{ID: 1, Name: "name", Type: schema.DTString},
				},
				MaxVertexNum: maxVertexNum,
			},
		},
		Edges: []schema.EdgeType{
			{
				Name: "knows",
				Triplets: []schema.Triplet{
					{
						Source:           "person",
						Destination:      "person",
						Cardinality:      schema.ManyToMany,
						OutgoingStrategy: schema.StrategyMultiple,
						IncomingStrategy: schema.StrategyMultiple,
						PropertyType:     schema.DTInvalid,
					},
				},
			},
		},
	}
	s.Index()
	return s
}

func TestDumpAndLoadRoundTripsIndexerAndCSR(t *testing.T) {
	dir := t.TempDir()

	frag, err := fragment.Open(testSnapshotSchema(16), dir)
	if err != nil {
		t.Fatal(err)
	}

	alice, err := frag.AddVertex("person", 1, map[string]interface{}{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	bob, err := frag.AddVertex("person", 2, map[string]interface{}{"name": "bob"})
	if err != nil {
		t.Fatal(err)
	}
	carol, err := frag.AddVertex("person", 3, map[string]interface{}{"name": "carol"})
	if err != nil {
		t.Fatal(err)
	}

	if err := frag.AddEdge("knows", "person", 1, "person", 2, nil, 1, fragment.Strict); err != nil {
		t.Fatal(err)
	}
	if err := frag.AddEdge("knows", "person", 1, "person", 3, nil, 2, fragment.Strict); err != nil {
		t.Fatal(err)
	}

	genID := uuid.New()
	if err := WriteGeneration(dir, genID); err != nil {
		t.Fatal(err)
	}
	if err := Dump(dir, frag); err != nil {
		t.Fatal(err)
	}

	gotGenID, err := ReadGeneration(dir)
	if err != nil {
		t.Fatal(err)
	}
	if gotGenID != genID {
		t.Fatalf("generation id round-trip mismatch: wrote %s, read %s", genID, gotGenID)
	}

	frag2, err := fragment.Open(testSnapshotSchema(16), dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(dir, frag2); err != nil {
		t.Fatal(err)
	}

	num, err := frag2.VertexNum("person")
	if err != nil {
		t.Fatal(err)
	}
	if num != 3 {
		t.Fatalf("expected vertex_num 3 after load, got %d", num)
	}

	out, err := frag2.OutEdges("person", alice, "knows", "person", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 out edges from alice after load, got %d", len(out))
	}
	neighbors := map[uint32]bool{}
	for _, r := range out {
		neighbors[r.Neighbor] = true
	}
	if !neighbors[bob] || !neighbors[carol] {
		t.Fatalf("expected out edges to bob and carol after load, got %+v", out)
	}

	in, err := frag2.InEdges("person", "person", bob, "knows", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(in) != 1 || in[0].Neighbor != alice {
		t.Fatalf("expected one in edge from alice to bob after load, got %+v", in)
	}

	// Inserting the same primary key again must still conflict: Load restored
	// the indexer's published keys, not just vertex_num.
	if _, err := frag2.AddVertex("person", 1, map[string]interface{}{"name": "alice-dup"}); err == nil {
		t.Fatal("expected a duplicate-key error after loading alice's restored mapping")
	}
}

func TestLoadIsNoopWhenSnapshotFilesAbsent(t *testing.T) {
	dir := t.TempDir()

	frag, err := fragment.Open(testSnapshotSchema(16), dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := Load(dir, frag); err != nil {
		t.Fatalf("expected Load on an empty directory to be a no-op, got %v", err)
	}

	num, err := frag.VertexNum("person")
	if err != nil {
		t.Fatal(err)
	}
	if num != 0 {
		t.Fatalf("expected vertex_num 0, got %d", num)
	}
}
