/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package csr

import (
	"sync"
	"testing"

	"github.com/krotik/graphdb/arena"
	"github.com/krotik/graphdb/schema"
)

func TestInsertAndReadMultiple(t *testing.T) {
	c, err := New(arena.New(), 4, schema.StrategyMultiple, schema.DTDouble, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Insert(0, 1, 1, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(0, 2, 2, 0.25); err != nil {
		t.Fatal(err)
	}

	var got []Record
	c.EdgesOf(0, 10, func(r Record) { got = append(got, r) })

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Neighbor != 1 || got[0].Prop.(float64) != 0.5 {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Neighbor != 2 || got[1].Prop.(float64) != 0.25 {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

func TestVisibilityFilter(t *testing.T) {
	c, err := New(arena.New(), 4, schema.StrategyMultiple, schema.DTInvalid, "")
	if err != nil {
		t.Fatal(err)
	}

	c.Insert(0, 1, 1, nil)
	c.Insert(0, 2, 5, nil)

	var atOne []Record
	c.EdgesOf(0, 1, func(r Record) { atOne = append(atOne, r) })
	if len(atOne) != 1 || atOne[0].Neighbor != 1 {
		t.Fatalf("expected only the ts=1 record visible at Ts=1, got %+v", atOne)
	}

	var atFive []Record
	c.EdgesOf(0, 5, func(r Record) { atFive = append(atFive, r) })
	if len(atFive) != 2 {
		t.Fatalf("expected both records visible at Ts=5, got %+v", atFive)
	}
}

func TestSingleStrategyOverwrite(t *testing.T) {
	c, err := New(arena.New(), 4, schema.StrategySingle, schema.DTInvalid, "")
	if err != nil {
		t.Fatal(err)
	}

	c.Insert(0, 10, 1, nil)
	c.Insert(0, 20, 2, nil)

	var got []Record
	c.EdgesOf(0, 100, func(r Record) { got = append(got, r) })

	if len(got) != 1 {
		t.Fatalf("expected exactly one record under Single, got %d", len(got))
	}
	if got[0].Neighbor != 20 || got[0].Timestamp != 2 {
		t.Fatalf("expected the current slot (neighbor 20, ts 2), got %+v", got[0])
	}
}

func TestStrategyNoneDropsEdge(t *testing.T) {
	c, err := New(arena.New(), 4, schema.StrategyNone, schema.DTInvalid, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Insert(0, 1, 1, nil); err != nil {
		t.Fatal(err)
	}

	if c.Degree(0) != 0 {
		t.Fatalf("expected degree 0 under StrategyNone, got %d", c.Degree(0))
	}
}

func TestNoTornReadsOnGrowth(t *testing.T) {
	c, err := New(arena.New(), 2, schema.StrategyMultiple, schema.DTInvalid, "")
	if err != nil {
		t.Fatal(err)
	}

	const n = 5000
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				var prevSize uint32
				prevNeighbor := -1
				c.EdgesOf(0, ^uint64(0), func(rec Record) {
					if int(rec.Neighbor) != prevNeighbor+1 {
						t.Errorf("gap or duplicate in adjacency: want neighbor %d, got %d", prevNeighbor+1, rec.Neighbor)
					}
					prevNeighbor = int(rec.Neighbor)
					prevSize++
				})
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err := c.Insert(0, uint32(i), uint64(i), nil); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	if c.Degree(0) != n {
		t.Fatalf("expected final degree %d, got %d", n, c.Degree(0))
	}
}
