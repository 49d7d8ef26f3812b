/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fragment

import (
	"testing"

	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/storeerr"
)

func testSchema(maxVertexNum uint64) *schema.Schema {
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

// Scenario 1 of spec §8: add_vertex, add_vertex, add_edge, out_edges.
func TestScenarioBasicAddAndTraverse(t *testing.T) {
	f, err := Open(testSchema(16), "")
	if err != nil {
		t.Fatal(err)
	}

	alice, err := f.AddVertex("person", 1, map[string]interface{}{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	bob, err := f.AddVertex("person", 2, map[string]interface{}{"name": "bob"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.AddEdge("knows", "person", 1, "person", 2, nil, 1, Strict); err != nil {
		t.Fatal(err)
	}

	out, err := f.OutEdges("person", alice, "knows", "person", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Neighbor != bob {
		t.Fatalf("expected one out edge to bob, got %+v", out)
	}

	in, err := f.InEdges("person", "person", bob, "knows", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(in) != 1 || in[0].Neighbor != alice {
		t.Fatalf("expected one in edge from alice, got %+v", in)
	}

	num, err := f.VertexNum("person")
	if err != nil {
		t.Fatal(err)
	}
	if num != 2 {
		t.Fatalf("expected vertex_num 2, got %d", num)
	}
}

// Scenario 2 of spec §8: inserting a duplicate primary key leaves vertex_num
// unchanged and returns ErrDuplicateKey.
func TestScenarioDuplicateKey(t *testing.T) {
	f, err := Open(testSchema(16), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.AddVertex("person", 1, map[string]interface{}{"name": "alice"}); err != nil {
		t.Fatal(err)
	}

	before, _ := f.VertexNum("person")

	_, err = f.AddVertex("person", 1, map[string]interface{}{"name": "alice-again"})
	if err == nil {
		t.Fatal("expected an error inserting a duplicate key")
	}
	if serr, ok := err.(*storeerr.Error); !ok || serr.Type != storeerr.ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	after, _ := f.VertexNum("person")
	if after != before {
		t.Fatalf("vertex_num changed on duplicate insert: before %d, after %d", before, after)
	}
}

// Scenario 6 of spec §8: inserting past the configured max_vertex_num leaves
// vertex_num unchanged and returns ErrCapacityExceeded.
func TestScenarioCapacityExceeded(t *testing.T) {
	f, err := Open(testSchema(2), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.AddVertex("person", 1, map[string]interface{}{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.AddVertex("person", 2, map[string]interface{}{"name": "bob"}); err != nil {
		t.Fatal(err)
	}

	before, _ := f.VertexNum("person")

	_, err = f.AddVertex("person", 3, map[string]interface{}{"name": "carol"})
	if err == nil {
		t.Fatal("expected an error inserting beyond max_vertex_num")
	}
	if serr, ok := err.(*storeerr.Error); !ok || serr.Type != storeerr.ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	after, _ := f.VertexNum("person")
	if after != before {
		t.Fatalf("vertex_num changed on rejected insert: before %d, after %d", before, after)
	}
}

// Upsert mode in AddEdge creates missing endpoints rather than rejecting them.
func TestAddEdgeUpsertCreatesMissingEndpoint(t *testing.T) {
	f, err := Open(testSchema(16), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.AddVertex("person", 1, map[string]interface{}{"name": "alice"}); err != nil {
		t.Fatal(err)
	}

	if err := f.AddEdge("knows", "person", 1, "person", 99, nil, 1, Upsert); err != nil {
		t.Fatal(err)
	}

	num, _ := f.VertexNum("person")
	if num != 2 {
		t.Fatalf("expected upsert to create the missing endpoint, vertex_num = %d", num)
	}
}

// Strict mode in AddEdge rejects a missing endpoint instead of creating one.
func TestAddEdgeStrictRejectsMissingEndpoint(t *testing.T) {
	f, err := Open(testSchema(16), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.AddVertex("person", 1, map[string]interface{}{"name": "alice"}); err != nil {
		t.Fatal(err)
	}

	err = f.AddEdge("knows", "person", 1, "person", 99, nil, 1, Strict)
	if err == nil {
		t.Fatal("expected an error for a missing endpoint under Strict mode")
	}
	if serr, ok := err.(*storeerr.Error); !ok || serr.Type != storeerr.ErrUnknownVertex {
		t.Fatalf("expected ErrUnknownVertex, got %v", err)
	}
}
