/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package arena

import (
	"testing"
)

func TestAllocateSizes(t *testing.T) {
	a := New()

	b := a.Allocate(100)
	if len(b.Data) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(b.Data))
	}

	big := a.Allocate(10_000_000)
	if len(big.Data) != 10_000_000 {
		t.Fatalf("expected 10000000 bytes, got %d", len(big.Data))
	}
}

func TestRetireNotFreedWhileGuardActive(t *testing.T) {
	a := New()

	g := a.EnterEpoch()

	buf := a.Allocate(64)
	a.Retire(buf)

	a.Reclaim()

	a.mu.Lock()
	pendingBefore := len(a.pending)
	a.mu.Unlock()

	if pendingBefore != 1 {
		t.Fatalf("expected buffer to remain pending while guard active, got %d pending", pendingBefore)
	}

	a.LeaveEpoch(g)
	a.Reclaim()

	a.mu.Lock()
	pendingAfter := len(a.pending)
	a.mu.Unlock()

	if pendingAfter != 0 {
		t.Fatalf("expected buffer reclaimed after guard left, got %d pending", pendingAfter)
	}
}

func TestReclaimWithNoActiveGuards(t *testing.T) {
	a := New()

	buf := a.Allocate(64)
	a.Retire(buf)
	a.Reclaim()

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) != 0 {
		t.Fatalf("expected buffer reclaimed with no active readers, got %d pending", len(a.pending))
	}
}

func TestMultipleGuardsIndependentEpochs(t *testing.T) {
	a := New()

	g1 := a.EnterEpoch()

	buf1 := a.Allocate(64)
	a.Retire(buf1)

	g2 := a.EnterEpoch()

	buf2 := a.Allocate(64)
	a.Retire(buf2)

	a.LeaveEpoch(g1)
	a.Reclaim()

	a.mu.Lock()
	pending := len(a.pending)
	a.mu.Unlock()
	if pending != 1 {
		t.Fatalf("expected buf2 still pending (g2 active), got %d pending", pending)
	}

	a.LeaveEpoch(g2)
	a.Reclaim()

	a.mu.Lock()
	pending = len(a.pending)
	a.mu.Unlock()
	if pending != 0 {
		t.Fatalf("expected all buffers reclaimed, got %d pending", pending)
	}
}
