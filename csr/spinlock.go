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
	"runtime"
	"sync/atomic"
)

/*
spinlock is the per-source write lock of spec §4.4. Readers never take it;
only the writer, inserting into one source's adjacency list, contends on
it, and only against itself (the transaction layer is single-writer), so a
spin loop costs less than parking a goroutine on a sync.Mutex in the
overwhelmingly common uncontended case.
*/
type spinlock struct {
	state atomic.Bool
}

func (s *spinlock) lock() {
	for !s.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) unlock() {
	s.state.Store(false)
}
