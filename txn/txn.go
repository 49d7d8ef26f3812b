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
Package txn implements the transaction layer of spec §4.6: ReadTransaction,
InsertTransaction, and UpdateTransaction over a fragment.Fragment.

The writer is single-threaded - Manager.BeginInsert/BeginUpdate block on a
mutex until any prior writer transaction has committed. Readers never
block: Manager.Read captures the current latest_published_ts and enters an
arena epoch, then every edge read on that transaction (OutEdges, InEdges)
filters by Timestamp <= Ts. Vertex lookups, property reads and vertex
counts carry no timestamp and see the Fragment's current state.

Rollback is commit-on-construct, per spec §9's Open Question: an
InsertTransaction has no Abort that undoes already-staged CSR/Table
writes, because a staged add_vertex or add_edge is immediately visible to
the writer goroutine itself (there is no side buffer). Abort is offered
only as a convenience for the case where nothing has been staged yet;
calling it after any staging call that reached a CSR or Table write is a
programming error and panics, mirroring the teacher's "failed
transactions cannot be committed again" rule in graph/trans.go.
*/
package txn

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/krotik/graphdb/arena"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/storeerr"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "txn").Logger()

/*
OpKind identifies one staged mutation in a WAL batch.
*/
type OpKind byte

const (
	OpAddVertex OpKind = iota
	OpAddEdge
	OpSetProperty
)

/*
Op is one staged mutation, tagged with the commit timestamp of the
transaction that produced it. The persist package encodes these as WAL
records; txn only shapes them.
*/
type Op struct {
	Kind      OpKind
	Timestamp uint64

	// OpAddVertex
	VertexLabel string
	Key         int64
	Props       map[string]interface{}

	// OpAddEdge
	EdgeLabel string
	SrcLabel  string
	SrcKey    int64
	DstLabel  string
	DstKey    int64
	Prop      interface{}
	Mode      fragment.EndpointMode

	// OpSetProperty
	Vid uint32
	Col int
	Val interface{}
}

/*
Log is the WAL append interface a Manager writes staged batches through.
The persist package's WAL implements this; tests may use an in-memory
stub.
*/
type Log interface {
	AppendBatch(ts uint64, ops []Op) error
}

/*
nopLog discards batches. Used when a Manager is built without durability
(anonymous, in-memory Fragments in tests).
*/
type nopLog struct{}

func (nopLog) AppendBatch(uint64, []Op) error { return nil }

/*
Notifier receives the commit timestamp of every transaction a Manager
publishes. server.CommitNotifier implements this to push {"ts": ...}
frames to connected websocket clients (SPEC_FULL.md §5.2); it is a
plain local interface rather than an import of the server package, so
txn has no dependency on how (or whether) commits are broadcast.
*/
type Notifier interface {
	Notify(ts uint64)
}

/*
Manager owns the single writer mutex and the WAL a commit fsyncs through.
One Manager per open Fragment.
*/
type Manager struct {
	frag     *fragment.Fragment
	wal      Log
	writerMu sync.Mutex
	notifier Notifier
}

/*
NewManager creates a Manager over frag, appending committed batches to
wal. A nil wal is replaced with a no-op log (durability is then the
caller's problem, e.g. in unit tests that don't exercise recovery).
*/
func NewManager(frag *fragment.Fragment, wal Log) *Manager {
	if wal == nil {
		wal = nopLog{}
	}
	return &Manager{frag: frag, wal: wal}
}

/*
SetNotifier registers n to be called with the commit timestamp of every
subsequent published transaction. Passing nil stops notifications.
*/
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

/*
Fragment returns the Manager's underlying Fragment, for callers that need
direct access to it (such as reading LatestPublishedTs).
*/
func (m *Manager) Fragment() *fragment.Fragment {
	return m.frag
}

/*
ReadTransaction is a read-only, non-blocking snapshot at Ts ==
latest_published_ts observed at Read-time.
*/
type ReadTransaction struct {
	frag  *fragment.Fragment
	ts    uint64
	guard *arena.Guard
	done  bool
}

/*
Read begins a ReadTransaction. Capture is acquire-load of
latest_published_ts followed by entering an arena epoch, per spec §4.6.
*/
func (m *Manager) Read() *ReadTransaction {
	ts := m.frag.LatestPublishedTs()
	guard := m.frag.Arena().EnterEpoch()
	return &ReadTransaction{frag: m.frag, ts: ts, guard: guard}
}

/*
Ts returns the transaction's snapshot timestamp.
*/
func (rt *ReadTransaction) Ts() uint64 {
	return rt.ts
}

/*
Close leaves the arena epoch, so buffers retired after this transaction
began are no longer held back by it; they are freed by the next
Arena.Reclaim call, which Close does not make itself. A ReadTransaction may be dropped at any time (spec
§4.6 cancellation); Close is idempotent so a deferred Close after an
early return never double-releases.
*/
func (rt *ReadTransaction) Close() {
	if rt.done {
		return
	}
	rt.frag.Arena().LeaveEpoch(rt.guard)
	rt.done = true
}

func (rt *ReadTransaction) GetVertex(label string, key int64) (uint32, bool, error) {
	return rt.frag.GetVertex(label, key)
}

func (rt *ReadTransaction) GetProperty(label string, vid uint32, col int) (interface{}, error) {
	return rt.frag.GetProperty(label, vid, col)
}

func (rt *ReadTransaction) VertexNum(label string) (uint32, error) {
	return rt.frag.VertexNum(label)
}

func (rt *ReadTransaction) OutEdges(srcLabel string, srcVid uint32, edgeLabel, dstLabel string) ([]fragment.EdgeRecord, error) {
	return rt.frag.OutEdges(srcLabel, srcVid, edgeLabel, dstLabel, rt.ts)
}

func (rt *ReadTransaction) InEdges(srcLabel, dstLabel string, dstVid uint32, edgeLabel string) ([]fragment.EdgeRecord, error) {
	return rt.frag.InEdges(srcLabel, dstLabel, dstVid, edgeLabel, rt.ts)
}

/*
writeTrans is the shared body of InsertTransaction and UpdateTransaction:
acquire the writer mutex at begin, allocate T, stage operations, WAL-batch
them, and fsync+publish at Commit.
*/
type writeTrans struct {
	mgr     *Manager
	ts      uint64
	ops     []Op
	staged  bool // true once a stage call reached a CSR or Table write
	done    bool
	closeFn func()
}

func beginWrite(m *Manager) *writeTrans {
	m.writerMu.Lock()
	ts := m.frag.LatestPublishedTs() + 1
	return &writeTrans{mgr: m, ts: ts, closeFn: m.writerMu.Unlock}
}

/*
commit fsyncs the WAL batch, then release-stores latest_published_ts,
then releases the writer mutex.
*/
func (w *writeTrans) commit() error {
	if w.done {
		return storeerr.New(storeerr.ErrIO, "transaction already closed")
	}
	defer func() {
		w.closeFn()
		w.done = true
	}()

	if len(w.ops) > 0 {
		if err := w.mgr.wal.AppendBatch(w.ts, w.ops); err != nil {
			log.Error().Uint64("ts", w.ts).Int("ops", len(w.ops)).Err(err).Msg("WAL append failed, commit aborted")
			return err
		}
	}

	w.mgr.frag.PublishTs(w.ts)
	log.Debug().Uint64("ts", w.ts).Int("ops", len(w.ops)).Msg("committed transaction")

	if w.mgr.notifier != nil {
		w.mgr.notifier.Notify(w.ts)
	}
	return nil
}

/*
abort is only valid before any stage call reached a CSR or Table write -
see the package doc comment. Calling it afterward panics.
*/
func (w *writeTrans) abort() {
	if w.done {
		return
	}
	if w.staged {
		panic("txn: Abort called after a staged write became visible; commit-on-construct forbids rollback past that point")
	}
	w.closeFn()
	w.done = true
	log.Debug().Uint64("ts", w.ts).Msg("aborted transaction before any staged write")
}

/*
InsertTransaction is the writer-exclusive add_vertex/add_edge transaction
of spec §4.6.
*/
type InsertTransaction struct {
	*writeTrans
}

/*
BeginInsert acquires the writer mutex and allocates T :=
latest_published_ts + 1. The mutex is held until Commit or Abort.
*/
func (m *Manager) BeginInsert() *InsertTransaction {
	return &InsertTransaction{writeTrans: beginWrite(m)}
}

/*
Ts returns the timestamp this transaction will publish at commit.
*/
func (it *InsertTransaction) Ts() uint64 { return it.ts }

/*
AddVertex stages a vertex insert, applies it to the Fragment immediately
(see package doc comment on commit-on-construct), and records it in the
in-memory WAL batch.
*/
func (it *InsertTransaction) AddVertex(label string, key int64, props map[string]interface{}) (uint32, error) {
	vid, err := it.mgr.frag.AddVertex(label, key, props)
	if err != nil {
		return 0, err
	}
	it.staged = true
	it.ops = append(it.ops, Op{
		Kind: OpAddVertex, Timestamp: it.ts,
		VertexLabel: label, Key: key, Props: props,
	})
	return vid, nil
}

/*
AddEdge stages an edge insert carrying this transaction's timestamp.
*/
func (it *InsertTransaction) AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64,
	prop interface{}, mode fragment.EndpointMode) error {

	if err := it.mgr.frag.AddEdge(edgeLabel, srcLabel, srcKey, dstLabel, dstKey, prop, it.ts, mode); err != nil {
		return err
	}
	it.staged = true
	it.ops = append(it.ops, Op{
		Kind: OpAddEdge, Timestamp: it.ts,
		EdgeLabel: edgeLabel, SrcLabel: srcLabel, SrcKey: srcKey,
		DstLabel: dstLabel, DstKey: dstKey, Prop: prop, Mode: mode,
	})
	return nil
}

/*
ApplyBatch stages every vertex then every edge in b, in order, as one
transaction - the bulk-load entry point of SPEC_FULL.md §4.
*/
func (it *InsertTransaction) ApplyBatch(b BulkLoadBatch) error {
	for _, v := range b.Vertices {
		if _, err := it.AddVertex(v.Label, v.Key, v.Props); err != nil {
			return err
		}
	}
	for _, e := range b.Edges {
		if err := it.AddEdge(e.EdgeLabel, e.SrcLabel, e.SrcKey, e.DstLabel, e.DstKey, e.Prop, e.Mode); err != nil {
			return err
		}
	}
	return nil
}

/*
Commit fsyncs the WAL batch and publishes T.
*/
func (it *InsertTransaction) Commit() error { return it.commit() }

/*
Abort releases the writer mutex without publishing T. Valid only if no
AddVertex/AddEdge call has yet succeeded.
*/
func (it *InsertTransaction) Abort() { it.abort() }

/*
UpdateTransaction is identical to InsertTransaction but also permits
vertex-property overwrites at existing vids, per spec §4.6's documented
weakening of MVCC for vertex updates: an overwrite replaces the value at
(label, vid, col) without versioning.
*/
type UpdateTransaction struct {
	*writeTrans
}

/*
BeginUpdate acquires the writer mutex and allocates T, exactly like
BeginInsert.
*/
func (m *Manager) BeginUpdate() *UpdateTransaction {
	return &UpdateTransaction{writeTrans: beginWrite(m)}
}

func (ut *UpdateTransaction) Ts() uint64 { return ut.ts }

func (ut *UpdateTransaction) AddVertex(label string, key int64, props map[string]interface{}) (uint32, error) {
	vid, err := ut.mgr.frag.AddVertex(label, key, props)
	if err != nil {
		return 0, err
	}
	ut.staged = true
	ut.ops = append(ut.ops, Op{
		Kind: OpAddVertex, Timestamp: ut.ts,
		VertexLabel: label, Key: key, Props: props,
	})
	return vid, nil
}

func (ut *UpdateTransaction) AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64,
	prop interface{}, mode fragment.EndpointMode) error {

	if err := ut.mgr.frag.AddEdge(edgeLabel, srcLabel, srcKey, dstLabel, dstKey, prop, ut.ts, mode); err != nil {
		return err
	}
	ut.staged = true
	ut.ops = append(ut.ops, Op{
		Kind: OpAddEdge, Timestamp: ut.ts,
		EdgeLabel: edgeLabel, SrcLabel: srcLabel, SrcKey: srcKey,
		DstLabel: dstLabel, DstKey: dstKey, Prop: prop, Mode: mode,
	})
	return nil
}

/*
SetProperty overwrites an existing vertex's column value in place. Readers
concurrently holding an older Ts may observe either the pre- or post-
update value until this transaction publishes, per spec §4.6.
*/
func (ut *UpdateTransaction) SetProperty(label string, vid uint32, col int, val interface{}) error {
	if err := ut.mgr.frag.SetProperty(label, vid, col, val); err != nil {
		return err
	}
	ut.staged = true
	ut.ops = append(ut.ops, Op{
		Kind: OpSetProperty, Timestamp: ut.ts,
		VertexLabel: label, Vid: vid, Col: col, Val: val,
	})
	return nil
}

func (ut *UpdateTransaction) Commit() error { return ut.commit() }

func (ut *UpdateTransaction) Abort() { ut.abort() }

/*
StagedVertex is one vertex record in a BulkLoadBatch.
*/
type StagedVertex struct {
	Label string
	Key   int64
	Props map[string]interface{}
}

/*
StagedEdge is one edge record in a BulkLoadBatch.
*/
type StagedEdge struct {
	EdgeLabel string
	SrcLabel  string
	SrcKey    int64
	DstLabel  string
	DstKey    int64
	Prop      interface{}
	Mode      fragment.EndpointMode
}

/*
BulkLoadBatch is a pre-staged set of vertex and edge records applied as
one InsertTransaction via ApplyBatch - the bulk-load path of
SPEC_FULL.md §4 ("bulk loaders... producers of BulkLoadBatch inputs").
Reading CSV/Parquet/etc. into a BulkLoadBatch remains out of scope; this
type is just the in-memory staging shape.
*/
type BulkLoadBatch struct {
	Vertices []StagedVertex
	Edges    []StagedEdge
}
