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
Package storeerr contains the error types used throughout the graph store.

Error wraps a sentinel error value with an optional detail string, so
callers can compare against the sentinel with errors.Is while still getting
a human-readable message. Low-level errors (IO, encoding) should be wrapped
in an Error before they cross a package boundary.
*/
package storeerr

import (
	"errors"
	"fmt"
)

/*
Error is a store related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v (%v)", e.Type, e.Detail)
	}
	return e.Type.Error()
}

/*
Unwrap exposes the sentinel error so callers can use errors.Is/errors.As.
*/
func (e *Error) Unwrap() error {
	return e.Type
}

/*
New creates a new Error for the given sentinel type with a detail string.
*/
func New(errType error, detail string) *Error {
	return &Error{errType, detail}
}

/*
Store related error sentinels, see spec §7.
*/
var (
	// ErrSchema marks malformed schema input, unknown primitive types or
	// an invalid primary key declaration. Surfaced to the caller at open.
	ErrSchema = errors.New("invalid schema")

	// ErrCapacityExceeded marks an LF-Indexer or Table at max_vertex_num.
	// Fatal to the current transaction only; the graph remains readable.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDuplicateKey marks add_vertex with an already-present primary key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownVertex marks a strict-mode edge endpoint that does not exist.
	ErrUnknownVertex = errors.New("unknown vertex")

	// ErrIO marks a WAL write or snapshot read/write failure. The writer
	// must treat this as fatal and abort the process.
	ErrIO = errors.New("io error")

	// ErrCorruptLog marks a WAL replay encountering an ill-formed record.
	ErrCorruptLog = errors.New("corrupt log")
)
