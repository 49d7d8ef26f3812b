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
Package persist implements the durable side of spec §4.7/§6: Snapshot
dump/load of the mmap-backed extents, and an append-only WAL that stages
a commit's operations in memory, fsyncs them as one record on commit, and
replays them in timestamp order during recovery.

Both the snapshot header and the WAL header carry a github.com/google/uuid
generation id (SPEC_FULL.md §5.1); OpenWAL refuses to replay a log whose
id does not match the snapshot it is paired with, surfacing
storeerr.ErrCorruptLog rather than silently replaying the wrong history.
*/
package persist

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krotik/common/pools"
	"github.com/krotik/common/stringutil"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/storeerr"
	"github.com/krotik/graphdb/txn"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "persist").Logger()

/*
batchBufPool recycles the bytes.Buffer AppendBatch encodes a commit's ops
into before writing it to the log file in one Write call, avoiding a fresh
allocation on every commit.
*/
var batchBufPool = pools.NewByteBufferPool()

/*
walMagic identifies a WAL file, mirroring
storage/file.TransactionManager's TransactionLogHeader check.
*/
var walMagic = []byte{0x67, 0x64, 0x62, 0x77} // "gdbw"

/*
WAL is an append-only log of committed transaction batches. One WAL per
open store; txn.Manager writes committed batches through it via the
txn.Log interface.
*/
type WAL struct {
	file  *os.File
	genID uuid.UUID
}

/*
OpenWAL opens (creating if necessary) the WAL file at path, tagged with
genID - the same id written into the paired Snapshot's header. If the
file already exists with a different generation id,
storeerr.ErrCorruptLog is returned: the WAL does not belong to this
snapshot.
*/
func OpenWAL(path string, genID uuid.UUID) (*WAL, error) {
	existing, existingID, err := readWALHeader(path)
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_RDWR
	if !existing {
		flags |= os.O_TRUNC
	} else if existingID != genID {
		log.Error().Str("path", path).Str("existing_gen", existingID.String()).
			Str("expected_gen", genID.String()).Msg("WAL generation id mismatch")
		return nil, storeerr.New(storeerr.ErrCorruptLog,
			fmt.Sprintf("WAL generation id %s does not match expected %s", existingID, genID))
	}

	f, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return nil, storeerr.New(storeerr.ErrIO, err.Error())
	}

	w := &WAL{file: f, genID: genID}

	if !existing {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, storeerr.New(storeerr.ErrIO, err.Error())
	}

	return w, nil
}

func readWALHeader(path string) (exists bool, genID uuid.UUID, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return false, uuid.UUID{}, nil
		}
		return false, uuid.UUID{}, storeerr.New(storeerr.ErrIO, openErr.Error())
	}
	defer f.Close()

	magic := make([]byte, len(walMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, uuid.UUID{}, nil
		}
		return false, uuid.UUID{}, storeerr.New(storeerr.ErrIO, err.Error())
	}
	for i := range magic {
		if magic[i] != walMagic[i] {
			return false, uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, "bad WAL magic")
		}
	}

	idBytes := make([]byte, 16)
	if _, err := io.ReadFull(f, idBytes); err != nil {
		return false, uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, "truncated WAL header")
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return false, uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, err.Error())
	}

	return true, id, nil
}

func (w *WAL) writeHeader() error {
	if _, err := w.file.Write(walMagic); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	idBytes, _ := w.genID.MarshalBinary()
	if _, err := w.file.Write(idBytes); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	return w.file.Sync()
}

/*
AppendBatch writes every op in ops as one record tagged with ts, then
fsyncs - satisfying spec §4.6's "fsync the WAL batch" commit step.
Implements txn.Log.
*/
func (w *WAL) AppendBatch(ts uint64, ops []txn.Op) error {
	buf := batchBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer batchBufPool.Put(buf)

	if err := binary.Write(buf, binary.LittleEndian, ts); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(ops))); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	for _, op := range ops {
		if err := writeOp(buf, op); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}

	return w.file.Sync()
}

/*
Replay reads every committed batch in order and calls fn with its
timestamp and ops, reconstructing Op.Timestamp from the batch header (it
is not written per-op). Used at recovery time; see cmd/graphdb.
*/
func (w *WAL) Replay(fn func(ts uint64, ops []txn.Op) error) error {
	if _, err := w.file.Seek(int64(len(walMagic)+16), io.SeekStart); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}

	var batches, totalOps int
	r := bufio.NewReader(w.file)
	for {
		var ts uint64
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			if err == io.EOF {
				break
			}
			return storeerr.New(storeerr.ErrCorruptLog, err.Error())
		}

		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return storeerr.New(storeerr.ErrCorruptLog, "truncated WAL batch header")
		}

		ops := make([]txn.Op, n)
		for i := range ops {
			op, err := readOp(r)
			if err != nil {
				return storeerr.New(storeerr.ErrCorruptLog, err.Error())
			}
			op.Timestamp = ts
			ops[i] = op
		}

		if err := fn(ts, ops); err != nil {
			return err
		}
		batches++
		totalOps += len(ops)
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}

	log.Info().Int("batches", batches).Int("ops", totalOps).Msg(
		fmt.Sprintf("replayed %d batch%s, %d op%s", batches, stringutil.Plural(batches), totalOps, stringutil.Plural(totalOps)))
	return nil
}

/*
Close syncs and closes the underlying file.
*/
func (w *WAL) Close() error {
	if err := w.file.Sync(); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	return w.file.Close()
}

func writeOp(w io.Writer, op txn.Op) error {
	if err := writeByte(w, byte(op.Kind)); err != nil {
		return err
	}

	switch op.Kind {
	case txn.OpAddVertex:
		if err := writeString(w, op.VertexLabel); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, op.Key); err != nil {
			return err
		}
		return writeProps(w, op.Props)

	case txn.OpAddEdge:
		for _, s := range []string{op.EdgeLabel, op.SrcLabel, op.DstLabel} {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, op.SrcKey); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, op.DstKey); err != nil {
			return err
		}
		if err := writeValue(w, op.Prop); err != nil {
			return err
		}
		return writeByte(w, byte(op.Mode))

	case txn.OpSetProperty:
		if err := writeString(w, op.VertexLabel); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, op.Vid); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(op.Col)); err != nil {
			return err
		}
		return writeValue(w, op.Val)
	}

	return storeerr.New(storeerr.ErrCorruptLog, "unknown op kind")
}

func readOp(r io.Reader) (txn.Op, error) {
	kindByte, err := readByte(r)
	if err != nil {
		return txn.Op{}, err
	}
	kind := txn.OpKind(kindByte)

	switch kind {
	case txn.OpAddVertex:
		label, err := readString(r)
		if err != nil {
			return txn.Op{}, err
		}
		var key int64
		if err := binary.Read(r, binary.LittleEndian, &key); err != nil {
			return txn.Op{}, err
		}
		props, err := readProps(r)
		if err != nil {
			return txn.Op{}, err
		}
		return txn.Op{Kind: kind, VertexLabel: label, Key: key, Props: props}, nil

	case txn.OpAddEdge:
		edgeLabel, err := readString(r)
		if err != nil {
			return txn.Op{}, err
		}
		srcLabel, err := readString(r)
		if err != nil {
			return txn.Op{}, err
		}
		dstLabel, err := readString(r)
		if err != nil {
			return txn.Op{}, err
		}
		var srcKey, dstKey int64
		if err := binary.Read(r, binary.LittleEndian, &srcKey); err != nil {
			return txn.Op{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &dstKey); err != nil {
			return txn.Op{}, err
		}
		prop, err := readValue(r)
		if err != nil {
			return txn.Op{}, err
		}
		modeByte, err := readByte(r)
		if err != nil {
			return txn.Op{}, err
		}
		return txn.Op{
			Kind: kind, EdgeLabel: edgeLabel, SrcLabel: srcLabel, SrcKey: srcKey,
			DstLabel: dstLabel, DstKey: dstKey, Prop: prop, Mode: fragment.EndpointMode(modeByte),
		}, nil

	case txn.OpSetProperty:
		label, err := readString(r)
		if err != nil {
			return txn.Op{}, err
		}
		var vid uint32
		if err := binary.Read(r, binary.LittleEndian, &vid); err != nil {
			return txn.Op{}, err
		}
		var col int32
		if err := binary.Read(r, binary.LittleEndian, &col); err != nil {
			return txn.Op{}, err
		}
		val, err := readValue(r)
		if err != nil {
			return txn.Op{}, err
		}
		return txn.Op{Kind: kind, VertexLabel: label, Vid: vid, Col: int(col), Val: val}, nil
	}

	return txn.Op{}, storeerr.New(storeerr.ErrCorruptLog, "unknown op kind in WAL")
}

func writeProps(w io.Writer, props map[string]interface{}) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(props))); err != nil {
		return err
	}
	for k, v := range props {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readProps(r io.Reader) (map[string]interface{}, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	props := make(map[string]interface{}, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readValue(r)
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}
