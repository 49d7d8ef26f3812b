/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package indexer

import (
	"errors"
	"sync"
	"testing"

	"github.com/krotik/graphdb/storeerr"
)

func TestInsertAndLookup(t *testing.T) {
	idx := New(16)

	vid, err := idx.Insert(1001)
	if err != nil {
		t.Fatal(err)
	}
	if vid != 0 {
		t.Fatalf("expected first vid 0, got %d", vid)
	}

	vid2, err := idx.Insert(2002)
	if err != nil {
		t.Fatal(err)
	}
	if vid2 != 1 {
		t.Fatalf("expected second vid 1, got %d", vid2)
	}

	got, ok := idx.Lookup(1001)
	if !ok || got != 0 {
		t.Fatalf("lookup(1001) = %d, %v", got, ok)
	}

	got, ok = idx.Lookup(2002)
	if !ok || got != 1 {
		t.Fatalf("lookup(2002) = %d, %v", got, ok)
	}

	if _, ok := idx.Lookup(9999); ok {
		t.Fatal("expected lookup of absent key to fail")
	}
}

func TestDuplicateKey(t *testing.T) {
	idx := New(16)

	if _, err := idx.Insert(42); err != nil {
		t.Fatal(err)
	}

	_, err := idx.Insert(42)
	if !errors.Is(err, storeerr.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after rejected duplicate, got %d", idx.Size())
	}
}

func TestCapacityExceeded(t *testing.T) {
	idx := New(2)

	if _, err := idx.Insert(1); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Insert(2); err != nil {
		t.Fatal(err)
	}

	_, err := idx.Insert(3)
	if !errors.Is(err, storeerr.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	if idx.Size() != 2 {
		t.Fatalf("expected size 2 after rejected insert, got %d", idx.Size())
	}
}

func TestDenseVidAssignment(t *testing.T) {
	idx := New(1000)

	seen := make(map[uint32]bool)
	for i := int64(0); i < 500; i++ {
		vid, err := idx.Insert(i)
		if err != nil {
			t.Fatal(err)
		}
		if seen[vid] {
			t.Fatalf("vid %d assigned twice", vid)
		}
		seen[vid] = true
	}

	for v := uint32(0); v < 500; v++ {
		if !seen[v] {
			t.Fatalf("vid %d never assigned: dense range violated", v)
		}
	}
}

func TestConcurrentInsertNoDuplicateVids(t *testing.T) {
	idx := New(10000)

	var wg sync.WaitGroup
	results := make([]uint32, 2000)
	errs := make([]error, 2000)

	for i := 0; i < 2000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := idx.Insert(int64(i))
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error for key %d: %v", i, err)
		}
		if seen[results[i]] {
			t.Fatalf("vid %d assigned to more than one key", results[i])
		}
		seen[results[i]] = true
	}
}
