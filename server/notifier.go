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
Package server implements SPEC_FULL.md §5.2's ambient monitoring
surface: a small websocket endpoint that pushes a {"ts": ...} frame to
every connected client each time a write transaction commits. Grounded
on api/v1/ecal-sock.go's upgrade handshake and ecal/websocket.go's
WebsocketConnection, generalized from "forward ECAL script events" to
"broadcast the latest published commit timestamp" - there is no
request/response exchange here, only a one-way fan-out, so connections
are tracked just long enough to know who to write to and to notice
when they go away.
*/
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/krotik/common/cryptutil"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "server").Logger()

/*
upgrader upgrades a plain HTTP request to a websocket connection,
mirroring api/v1/ecal-sock.go's sockUpgrader.
*/
var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"graphdb-commit-notify"},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

/*
CommitNotifier tracks connected websocket clients and broadcasts every
commit timestamp it is given to all of them. One CommitNotifier per
open store; wire it to a txn.Manager with Manager.SetNotifier.
*/
type CommitNotifier struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
	wmus  map[string]*sync.Mutex
}

/*
NewCommitNotifier creates an empty CommitNotifier.
*/
func NewCommitNotifier() *CommitNotifier {
	return &CommitNotifier{
		conns: make(map[string]*websocket.Conn),
		wmus:  make(map[string]*sync.Mutex),
	}
}

/*
ServeHTTP upgrades r to a websocket connection and registers it for
commit notifications. The connection is only ever written to by this
server; messages a client sends are read and discarded, and the read loop
ends, deregistering the connection, once a read fails (a close frame or a
broken connection).
*/
func (n *CommitNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	commID := fmt.Sprintf("%x", cryptutil.GenerateUUID())

	n.mu.Lock()
	n.conns[commID] = conn
	n.wmus[commID] = &sync.Mutex{}
	n.mu.Unlock()

	log.Debug().Str("comm_id", commID).Msg("registered commit-notify client")

	n.readUntilClose(commID, conn)
}

func (n *CommitNotifier) readUntilClose(commID string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	n.mu.Lock()
	delete(n.conns, commID)
	delete(n.wmus, commID)
	n.mu.Unlock()

	conn.Close()
	log.Debug().Str("comm_id", commID).Msg("commit-notify client disconnected")
}

/*
Notify broadcasts ts to every connected client as {"ts": ts}. Implements
txn.Notifier; a Manager calls this once per commit, after
PublishTs has made ts visible to new readers.
*/
func (n *CommitNotifier) Notify(ts uint64) {
	payload, err := json.Marshal(map[string]interface{}{"ts": ts})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode commit notification")
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for commID, conn := range n.conns {
		wmu := n.wmus[commID]
		wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, payload)
		wmu.Unlock()

		if err != nil {
			log.Error().Str("comm_id", commID).Err(err).Msg("failed to deliver commit notification")
		}
	}
}

/*
ConnectionCount returns the number of currently registered clients,
mainly for tests and diagnostics.
*/
func (n *CommitNotifier) ConnectionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}
