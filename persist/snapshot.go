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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/krotik/common/sortutil"
	"github.com/krotik/graphdb/csr"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/indexer"
	"github.com/krotik/graphdb/storeerr"
)

/*
snapMagic identifies a snapshot generation header file, mirroring
storage/paging.PagedStorageFileHeader's magic-number check.
*/
var snapMagic = []byte{0x67, 0x64, 0x62, 0x73} // "gdbs"

/*
dirSuffix names the two CSR directions on disk.
*/
func dirSuffix(d fragment.Direction) string {
	if d == fragment.Incoming {
		return "in"
	}
	return "out"
}

/*
WriteGeneration writes the snapshot directory's generation header: the
same github.com/google/uuid id the paired WAL is opened with, so recovery
can detect a mismatched pairing before trusting either (SPEC_FULL.md
§5.1).
*/
func WriteGeneration(dir string, genID uuid.UUID) error {
	f, err := os.Create(dir + "/GENERATION")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer f.Close()

	if _, err := f.Write(snapMagic); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	idBytes, _ := genID.MarshalBinary()
	if _, err := f.Write(idBytes); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	return f.Sync()
}

/*
ReadGeneration reads back the generation id WriteGeneration wrote, for the
caller to compare against the WAL it intends to pair with it.
*/
func ReadGeneration(dir string) (uuid.UUID, error) {
	f, err := os.Open(dir + "/GENERATION")
	if err != nil {
		return uuid.UUID{}, storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer f.Close()

	magic := make([]byte, len(snapMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, err.Error())
	}
	for i := range magic {
		if magic[i] != snapMagic[i] {
			return uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, "bad snapshot magic")
		}
	}

	idBytes := make([]byte, 16)
	if _, err := io.ReadFull(f, idBytes); err != nil {
		return uuid.UUID{}, storeerr.New(storeerr.ErrCorruptLog, "truncated snapshot header")
	}
	return uuid.FromBytes(idBytes)
}

/*
Dump writes frag's LF-Indexer and Mutable CSR state to dir as
<label>.indexer and <edgeLabel>.<srcLabel>.<dstLabel>.<in|out>.{degree,
offsets,nbrs} files (spec §6's on-disk layout), then flushes every vertex
property column. When frag was opened with a non-empty dir, each
table.Column already lives in its own mmap-backed <label>.col<i> (and
<label>.col<i>.blob) file and every Set is visible to a fresh mapping of
that file immediately - msync is only needed to push dirty pages out
before something other than this process's page cache reads them back
(a crash, or a second process). Dump's final frag.FlushTables call is
that msync, so a checkpoint's durability does not depend on the OS
writing pages back on its own schedule.
*/
func Dump(dir string, frag *fragment.Fragment) error {
	for _, label := range sortedLabels(frag.VertexLabels()) {
		if err := dumpIndexer(dir, label, frag); err != nil {
			return err
		}
	}

	for _, k := range sortedTripletKeys(frag.TripletKeys()) {
		c := frag.CSRFor(k.EdgeLabel, k.SrcLabel, k.DstLabel, k.Dir)
		if c == nil {
			continue
		}
		if err := dumpCSR(dir, k, c); err != nil {
			return err
		}
	}

	return frag.FlushTables()
}

/*
sortedLabels/sortedTripletKeys give Dump/Load a deterministic iteration
order over frag's maps - Go randomizes map iteration order, and without
this a directory listing or log line taken between two Dump calls on
identical state would vary for no reason. Grounded on
github.com/krotik/common/sortutil's "sort anything by its string form"
AbstractSlice, the same shape the teacher uses for log/display ordering.
*/
func sortedLabels(labels []string) []string {
	boxed := make([]interface{}, len(labels))
	for i, l := range labels {
		boxed[i] = l
	}
	sortutil.InterfaceStrings(boxed)
	out := make([]string, len(boxed))
	for i, v := range boxed {
		out[i] = v.(string)
	}
	return out
}

func sortedTripletKeys(keys []fragment.TripletKeyView) []fragment.TripletKeyView {
	boxed := make([]interface{}, len(keys))
	for i, k := range keys {
		boxed[i] = tripletBase(k)
	}
	sortutil.InterfaceStrings(boxed)

	byBase := make(map[string]fragment.TripletKeyView, len(keys))
	for _, k := range keys {
		byBase[tripletBase(k)] = k
	}
	out := make([]fragment.TripletKeyView, len(boxed))
	for i, v := range boxed {
		out[i] = byBase[v.(string)]
	}
	return out
}

func dumpIndexer(dir, label string, frag *fragment.Fragment) error {
	idx, err := frag.Indexer(label)
	if err != nil {
		return err
	}

	f, err := os.Create(dir + "/" + label + ".indexer")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, idx.Size()); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}

	var entries []indexer.Entry
	idx.SnapshotIter(func(e indexer.Entry) {
		entries = append(entries, e)
	})

	for _, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, e.Key); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
		if err := binary.Write(w, binary.LittleEndian, e.Vid); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
	}

	if err := w.Flush(); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	return f.Sync()
}

func tripletBase(k fragment.TripletKeyView) string {
	return k.EdgeLabel + "." + k.SrcLabel + "." + k.DstLabel + "." + dirSuffix(k.Dir)
}

func dumpCSR(dir string, k fragment.TripletKeyView, c *csr.CSR) error {
	base := dir + "/" + tripletBase(k)

	degreeF, err := os.Create(base + ".degree")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer degreeF.Close()
	offsetsF, err := os.Create(base + ".offsets")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer offsetsF.Close()
	nbrsF, err := os.Create(base + ".nbrs")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer nbrsF.Close()

	degreeW := bufio.NewWriter(degreeF)
	offsetsW := bufio.NewWriter(offsetsF)
	nbrsW := bufio.NewWriter(nbrsF)

	var offset uint64
	if err := binary.Write(offsetsW, binary.LittleEndian, offset); err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}

	for s := 0; s < c.Sources(); s++ {
		deg := c.Degree(uint32(s))
		if err := binary.Write(degreeW, binary.LittleEndian, deg); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}

		var writeErr error
		c.EdgesOf(uint32(s), ^uint64(0), func(r csr.Record) {
			if writeErr != nil {
				return
			}
			if err := binary.Write(nbrsW, binary.LittleEndian, r.Neighbor); err != nil {
				writeErr = err
				return
			}
			if err := binary.Write(nbrsW, binary.LittleEndian, r.Timestamp); err != nil {
				writeErr = err
				return
			}
			if err := writeValue(nbrsW, r.Prop); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return storeerr.New(storeerr.ErrIO, writeErr.Error())
		}

		offset += uint64(deg)
		if err := binary.Write(offsetsW, binary.LittleEndian, offset); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
	}

	for _, w := range []*bufio.Writer{degreeW, offsetsW, nbrsW} {
		if err := w.Flush(); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
	}
	for _, f := range []*os.File{degreeF, offsetsF, nbrsF} {
		if err := f.Sync(); err != nil {
			return storeerr.New(storeerr.ErrIO, err.Error())
		}
	}

	return nil
}

/*
Load reconstructs frag's LF-Indexer and Mutable CSR state from dir, which
must have been populated by a prior Dump against a Fragment opened from
the same Schema. frag must already be open (via fragment.Open(schema,
dir)) so its column extents have been mapped - Load only restores the
in-memory-only structures Dump wrote out explicitly.
*/
func Load(dir string, frag *fragment.Fragment) error {
	for _, label := range sortedLabels(frag.VertexLabels()) {
		if err := loadIndexer(dir, label, frag); err != nil {
			return err
		}
	}

	for _, k := range sortedTripletKeys(frag.TripletKeys()) {
		c := frag.CSRFor(k.EdgeLabel, k.SrcLabel, k.DstLabel, k.Dir)
		if c == nil {
			continue
		}
		if err := loadCSR(dir, k, c); err != nil {
			return err
		}
	}

	return nil
}

func loadIndexer(dir, label string, frag *fragment.Fragment) error {
	path := dir + "/" + label + ".indexer"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return storeerr.New(storeerr.ErrCorruptLog, err.Error())
	}

	for i := uint32(0); i < count; i++ {
		var key int64
		var vid uint32
		if err := binary.Read(r, binary.LittleEndian, &key); err != nil {
			return storeerr.New(storeerr.ErrCorruptLog, err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &vid); err != nil {
			return storeerr.New(storeerr.ErrCorruptLog, err.Error())
		}
		if err := frag.RestoreVertex(label, key, vid); err != nil {
			return err
		}
	}

	return nil
}

func loadCSR(dir string, k fragment.TripletKeyView, c *csr.CSR) error {
	base := dir + "/" + tripletBase(k)

	degreeF, err := os.Open(base + ".degree")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer degreeF.Close()
	nbrsF, err := os.Open(base + ".nbrs")
	if err != nil {
		return storeerr.New(storeerr.ErrIO, err.Error())
	}
	defer nbrsF.Close()

	degreeR := bufio.NewReader(degreeF)
	nbrsR := bufio.NewReader(nbrsF)

	for s := 0; ; s++ {
		var deg uint32
		if err := binary.Read(degreeR, binary.LittleEndian, &deg); err != nil {
			if err == io.EOF {
				break
			}
			return storeerr.New(storeerr.ErrCorruptLog, err.Error())
		}

		for i := uint32(0); i < deg; i++ {
			var neighbor uint32
			var ts uint64
			if err := binary.Read(nbrsR, binary.LittleEndian, &neighbor); err != nil {
				return storeerr.New(storeerr.ErrCorruptLog, err.Error())
			}
			if err := binary.Read(nbrsR, binary.LittleEndian, &ts); err != nil {
				return storeerr.New(storeerr.ErrCorruptLog, err.Error())
			}
			prop, err := readValue(nbrsR)
			if err != nil {
				return storeerr.New(storeerr.ErrCorruptLog, err.Error())
			}
			if err := c.Insert(uint32(s), neighbor, ts, prop); err != nil {
				return err
			}
		}
	}

	return nil
}
