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
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/storeerr"
	"github.com/krotik/graphdb/txn"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")
	genID := uuid.New()

	w, err := OpenWAL(path, genID)
	if err != nil {
		t.Fatal(err)
	}

	batch1 := []txn.Op{
		{Kind: txn.OpAddVertex, VertexLabel: "person", Key: 1,
			Props: map[string]interface{}{"name": "alice", "age": int32(30)}},
	}
	batch2 := []txn.Op{
		{Kind: txn.OpAddEdge, EdgeLabel: "knows", SrcLabel: "person", SrcKey: 1,
			DstLabel: "person", DstKey: 2, Prop: nil, Mode: fragment.Upsert},
		{Kind: txn.OpSetProperty, VertexLabel: "person", Vid: 0, Col: 1, Val: "alicia"},
	}

	if err := w.AppendBatch(1, batch1); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendBatch(2, batch2); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := OpenWAL(path, genID)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	var replayed []struct {
		ts  uint64
		ops []txn.Op
	}
	err = w2.Replay(func(ts uint64, ops []txn.Op) error {
		replayed = append(replayed, struct {
			ts  uint64
			ops []txn.Op
		}{ts, ops})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(replayed) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(replayed))
	}
	if replayed[0].ts != 1 || len(replayed[0].ops) != 1 {
		t.Fatalf("unexpected first batch: %+v", replayed[0])
	}
	gotName := replayed[0].ops[0].Props["name"]
	if gotName.(string) != "alice" {
		t.Fatalf("expected name=alice, got %v", gotName)
	}
	gotAge := replayed[0].ops[0].Props["age"]
	if gotAge.(int32) != 30 {
		t.Fatalf("expected age=30, got %v", gotAge)
	}

	if replayed[1].ts != 2 || len(replayed[1].ops) != 2 {
		t.Fatalf("unexpected second batch: %+v", replayed[1])
	}
	if replayed[1].ops[0].Mode != fragment.Upsert {
		t.Fatalf("expected Upsert mode, got %v", replayed[1].ops[0].Mode)
	}
	if replayed[1].ops[1].Val.(string) != "alicia" {
		t.Fatalf("expected Val=alicia, got %v", replayed[1].ops[1].Val)
	}
	for _, b := range replayed {
		for _, op := range b.ops {
			if op.Timestamp != b.ts {
				t.Fatalf("op timestamp %d does not match batch ts %d", op.Timestamp, b.ts)
			}
		}
	}
}

func TestOpenWALRejectsMismatchedGenerationID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := OpenWAL(path, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	_, err = OpenWAL(path, uuid.New())
	if err == nil {
		t.Fatal("expected an error re-opening the WAL with a different generation id")
	}
	if serr, ok := err.(*storeerr.Error); !ok || serr.Type != storeerr.ErrCorruptLog {
		t.Fatalf("expected ErrCorruptLog, got %v", err)
	}
}
