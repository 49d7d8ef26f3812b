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
Command graphdb is the store's entry point: load a schema, open (or
recover) a data directory, register the db.* ECAL stored procedures, and
run until the lockfile is removed or overwritten, mirroring eliasdb.go's
load-config/open-store/wait-on-lockfile shape (SPEC_FULL.md §1).

Recovery replays the write-ahead log over a freshly loaded snapshot, so
on every clean shutdown the snapshot is re-dumped and the WAL is
truncated (§5.1); a WAL that survives a snapshot untruncated would
otherwise be replayed twice over the same vertices on the next start.
*/
package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krotik/common/fileutil"
	"github.com/krotik/common/lockutil"

	"github.com/krotik/graphdb/config"
	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/persist"
	"github.com/krotik/graphdb/procs"
	"github.com/krotik/graphdb/schema"
	"github.com/krotik/graphdb/server"
	"github.com/krotik/graphdb/txn"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "cmd").Logger()

var walFile = "wal.log"

func main() {
	schemaPath := flag.String("schema", "schema.yaml", "path to the schema document")
	flag.Parse()

	if config.Config == nil {
		if err := config.LoadConfigFile(config.DefaultConfigFile); err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}

	dataDir := config.Str(config.DataDir)
	if err := ensurePath(dataDir); err != nil {
		log.Fatal().Err(err).Str("dir", dataDir).Msg("could not create data directory")
	}

	sch, err := loadSchema(*schemaPath)
	if err != nil {
		log.Fatal().Err(err).Str("schema", *schemaPath).Msg("could not load schema")
	}

	frag, wal, err := openStore(dataDir, sch)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open store")
	}

	mgr := txn.NewManager(frag, wal)

	var notifier *server.CommitNotifier
	if config.Bool(config.EnableNotifier) {
		notifier = server.NewCommitNotifier()
		mgr.SetNotifier(notifier)

		addr := config.Str(config.NotifierHost) + ":" + config.Str(config.NotifierPort)
		log.Info().Str("addr", addr).Msg("starting commit-notify listener")
		go serveNotifier(addr, notifier)
	}

	procs.Register(mgr)

	lockPath := config.DataPath(config.Str(config.LockFile))
	lf := lockutil.NewLockFile(lockPath, 2*time.Second)
	if err := lf.Start(); err != nil {
		log.Fatal().Err(err).Str("lockfile", lockPath).Msg("could not start lockfile watcher")
	}

	log.Info().Str("datadir", dataDir).Msg("graphdb ready")

	for lf.WatcherRunning() {
		time.Sleep(time.Second)
	}

	log.Info().Msg("lockfile released, shutting down")

	if err := checkpoint(dataDir, frag, wal); err != nil {
		log.Fatal().Err(err).Msg("checkpoint failed during shutdown")
	}
}

/*
loadSchema reads and parses the YAML schema document at path.
*/
func loadSchema(path string) (*schema.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return schema.LoadYAML(f)
}

/*
openStore opens frag against dataDir and replays any WAL records
committed after the last snapshot. The generation id ties a snapshot
directory to the WAL that extends it: a fresh data directory mints one
and writes it alongside the first snapshot, an existing one is read
back and compared against the WAL's own header by OpenWAL.
*/
func openStore(dataDir string, sch *schema.Schema) (*fragment.Fragment, *persist.WAL, error) {
	frag, err := fragment.Open(sch, dataDir)
	if err != nil {
		return nil, nil, err
	}

	genID, err := persist.ReadGeneration(dataDir)
	if err != nil {
		genID = uuid.New()
		if err := persist.WriteGeneration(dataDir, genID); err != nil {
			return nil, nil, err
		}
	} else if err := persist.Load(dataDir, frag); err != nil {
		return nil, nil, err
	}

	walPath := filepath.Join(dataDir, walFile)
	wal, err := persist.OpenWAL(walPath, genID)
	if err != nil {
		return nil, nil, err
	}

	replayed := 0
	if err := wal.Replay(func(ts uint64, ops []txn.Op) error {
		for _, op := range ops {
			if err := applyOp(frag, op); err != nil {
				return err
			}
		}
		frag.PublishTs(ts)
		replayed++
		return nil
	}); err != nil {
		return nil, nil, err
	}
	if replayed > 0 {
		log.Info().Int("batches", replayed).Msg("recovered from write-ahead log")
	}

	return frag, wal, nil
}

/*
applyOp re-applies one WAL-recorded mutation directly against frag,
bypassing txn.Manager since recovery has no concurrent readers to
serialize against.
*/
func applyOp(frag *fragment.Fragment, op txn.Op) error {
	switch op.Kind {
	case txn.OpAddVertex:
		_, err := frag.AddVertex(op.VertexLabel, op.Key, op.Props)
		return err
	case txn.OpAddEdge:
		return frag.AddEdge(op.EdgeLabel, op.SrcLabel, op.SrcKey, op.DstLabel, op.DstKey,
			op.Prop, op.Timestamp, op.Mode)
	case txn.OpSetProperty:
		return frag.SetProperty(op.VertexLabel, op.Vid, op.Col, op.Val)
	}
	return nil
}

/*
checkpoint dumps frag's indexer and CSR state to dataDir and truncates
the WAL, so the next openStore call replays nothing that this one
already persisted.
*/
func checkpoint(dataDir string, frag *fragment.Fragment, wal *persist.WAL) error {
	if err := persist.Dump(dataDir, frag); err != nil {
		return err
	}
	if err := wal.Close(); err != nil {
		return err
	}
	return os.Remove(filepath.Join(dataDir, walFile))
}

func serveNotifier(addr string, n *server.CommitNotifier) {
	if err := http.ListenAndServe(addr, n); err != nil {
		log.Error().Err(err).Msg("commit-notify listener stopped")
	}
}

/*
ensurePath creates dir (and any missing parents) if it does not
already exist, mirroring eliasdb.go's helper of the same name.
*/
func ensurePath(dir string) error {
	if res, _ := fileutil.PathExists(dir); !res {
		return os.MkdirAll(dir, 0770)
	}
	return nil
}
