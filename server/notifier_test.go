/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestCommitNotifierBroadcastsToConnectedClients(t *testing.T) {
	n := NewCommitNotifier()

	ts := httptest.NewServer(n)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"

	c1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	c2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	deadline := time.Now().Add(2 * time.Second)
	for n.ConnectionCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := n.ConnectionCount(); got != 2 {
		t.Fatalf("expected 2 registered clients, got %d", got)
	}

	n.Notify(42)

	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := c.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(msg) != `{"ts":42}` {
			t.Fatalf("unexpected notification payload: %s", msg)
		}
	}
}

func TestCommitNotifierDeregistersOnDisconnect(t *testing.T) {
	n := NewCommitNotifier()

	ts := httptest.NewServer(n)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"

	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for n.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	c.Close()

	deadline = time.Now().Add(2 * time.Second)
	for n.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := n.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 registered clients after disconnect, got %d", got)
	}
}
