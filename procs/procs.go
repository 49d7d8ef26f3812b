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
Package procs exposes txn.Manager operations as ECAL stdlib functions
under the "db" package, grounded on ecal/dbfunc's StoreNodeFunc/
StoreEdgeFunc/NewTransFunc/CommitTransFunc shape and ecal/interpreter.go's
AddEliasDBStdlibFunctions wiring. An operator-authored .ecal script calls
db.beginInsert(), db.addVertex(trans, label, key, props),
db.commit(trans) and friends, giving SPEC_FULL.md §5.3's "stored
procedure" extension point a concrete embedding over fragment.Fragment
instead of eliasdb's graph.Manager.

Every Run method below follows the same (instanceID string, vs
parser.Scope, is map[string]interface{}, tid uint64, args []interface{})
signature the ECAL stdlib package requires - none of these fields are
used by graphdb's functions, which only care about args, but the
signature has to match for Register to type-check against
stdlib.AddStdlibFunc without importing stdlib's function interface
explicitly (structural typing, exactly as dbfunc does it).
*/
package procs

import (
	"fmt"
	"strconv"

	"github.com/krotik/ecal/parser"
	"github.com/krotik/ecal/stdlib"

	"github.com/krotik/graphdb/fragment"
	"github.com/krotik/graphdb/txn"
)

/*
vertexStager is satisfied by both *txn.InsertTransaction and
*txn.UpdateTransaction, letting AddVertexFunc accept either as its
transaction argument.
*/
type vertexStager interface {
	AddVertex(label string, key int64, props map[string]interface{}) (uint32, error)
}

/*
edgeStager is satisfied by both *txn.InsertTransaction and
*txn.UpdateTransaction.
*/
type edgeStager interface {
	AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64,
		prop interface{}, mode fragment.EndpointMode) error
}

/*
committer is satisfied by both transaction types' Commit method.
*/
type committer interface {
	Commit() error
}

/*
aborter is satisfied by both transaction types' Abort method.
*/
type aborter interface {
	Abort()
}

/*
Register adds every graphdb ECAL function below under the "db" stdlib
package, bound to mgr. Mirrors ecal/interpreter.go's
AddEliasDBStdlibFunctions.
*/
func Register(mgr *txn.Manager) {
	stdlib.AddStdlibPkg("db", "graphdb store operations")

	stdlib.AddStdlibFunc("db", "beginInsert", &BeginInsertFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "beginUpdate", &BeginUpdateFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "commit", &CommitFunc{})
	stdlib.AddStdlibFunc("db", "abort", &AbortFunc{})
	stdlib.AddStdlibFunc("db", "addVertex", &AddVertexFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "addEdge", &AddEdgeFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "setProperty", &SetPropertyFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "getVertex", &GetVertexFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "getProperty", &GetPropertyFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "vertexNum", &VertexNumFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "outEdges", &OutEdgesFunc{Mgr: mgr})
	stdlib.AddStdlibFunc("db", "inEdges", &InEdgesFunc{Mgr: mgr})
}

/*
BeginInsertFunc starts an InsertTransaction and returns it, holding the
writer lock until a script calls db.commit or db.abort on it.
*/
type BeginInsertFunc struct {
	Mgr *txn.Manager
}

func (f *BeginInsertFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("Function does not require any parameters")
	}
	return f.Mgr.BeginInsert(), nil
}

func (f *BeginInsertFunc) DocString() (string, error) {
	return "Begins an insert transaction.", nil
}

/*
BeginUpdateFunc starts an UpdateTransaction.
*/
type BeginUpdateFunc struct {
	Mgr *txn.Manager
}

func (f *BeginUpdateFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("Function does not require any parameters")
	}
	return f.Mgr.BeginUpdate(), nil
}

func (f *BeginUpdateFunc) DocString() (string, error) {
	return "Begins an update transaction.", nil
}

/*
CommitFunc commits a transaction previously returned by db.beginInsert
or db.beginUpdate.
*/
type CommitFunc struct{}

func (f *CommitFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("Function requires the transaction to commit as parameter")
	}
	tx, ok := args[0].(committer)
	if !ok {
		return nil, fmt.Errorf("Parameter must be a transaction")
	}
	return nil, tx.Commit()
}

func (f *CommitFunc) DocString() (string, error) {
	return "Commits a transaction.", nil
}

/*
AbortFunc aborts a transaction before any staged write has taken
effect; see txn's package doc comment on commit-on-construct.
*/
type AbortFunc struct{}

func (f *AbortFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("Function requires the transaction to abort as parameter")
	}
	tx, ok := args[0].(aborter)
	if !ok {
		return nil, fmt.Errorf("Parameter must be a transaction")
	}
	tx.Abort()
	return nil, nil
}

func (f *AbortFunc) DocString() (string, error) {
	return "Aborts a transaction before any staged write has taken effect.", nil
}

func toInt64(v interface{}) (int64, error) {
	return strconv.ParseInt(fmt.Sprint(v), 10, 64)
}

func toUint32(v interface{}) (uint32, error) {
	n, err := strconv.ParseUint(fmt.Sprint(v), 10, 32)
	return uint32(n), err
}

func toProps(v interface{}) (map[string]interface{}, error) {
	m, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("Parameter must be a map")
	}
	props := make(map[string]interface{}, len(m))
	for k, val := range m {
		props[fmt.Sprint(k)] = val
	}
	return props, nil
}

func toMode(v interface{}) (fragment.EndpointMode, error) {
	switch fmt.Sprint(v) {
	case "strict":
		return fragment.Strict, nil
	case "upsert":
		return fragment.Upsert, nil
	}
	return 0, fmt.Errorf("Endpoint mode must be 'strict' or 'upsert', not: %v", v)
}

/*
AddVertexFunc stages a vertex insert on an existing transaction:
db.addVertex(trans, label, key, props).
*/
type AddVertexFunc struct {
	Mgr *txn.Manager
}

func (f *AddVertexFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("Function requires 4 parameters: transaction, vertex label, key and a property map")
	}

	stager, ok := args[0].(vertexStager)
	if !ok {
		return nil, fmt.Errorf("First parameter must be a transaction")
	}
	label := fmt.Sprint(args[1])
	key, err := toInt64(args[2])
	if err != nil {
		return nil, fmt.Errorf("Key must be a number not: %v", args[2])
	}
	props, err := toProps(args[3])
	if err != nil {
		return nil, err
	}

	vid, err := stager.AddVertex(label, key, props)
	return vid, err
}

func (f *AddVertexFunc) DocString() (string, error) {
	return "Stages a vertex insert on a transaction.", nil
}

/*
AddEdgeFunc stages an edge insert: db.addEdge(trans, edgeLabel,
srcLabel, srcKey, dstLabel, dstKey, prop, mode).
*/
type AddEdgeFunc struct {
	Mgr *txn.Manager
}

func (f *AddEdgeFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 8 {
		return nil, fmt.Errorf("Function requires 8 parameters: transaction, edge label, " +
			"source label, source key, destination label, destination key, property and endpoint mode")
	}

	stager, ok := args[0].(edgeStager)
	if !ok {
		return nil, fmt.Errorf("First parameter must be a transaction")
	}
	edgeLabel := fmt.Sprint(args[1])
	srcLabel := fmt.Sprint(args[2])
	srcKey, err := toInt64(args[3])
	if err != nil {
		return nil, fmt.Errorf("Source key must be a number not: %v", args[3])
	}
	dstLabel := fmt.Sprint(args[4])
	dstKey, err := toInt64(args[5])
	if err != nil {
		return nil, fmt.Errorf("Destination key must be a number not: %v", args[5])
	}
	mode, err := toMode(args[7])
	if err != nil {
		return nil, err
	}

	return nil, stager.AddEdge(edgeLabel, srcLabel, srcKey, dstLabel, dstKey, args[6], mode)
}

func (f *AddEdgeFunc) DocString() (string, error) {
	return "Stages an edge insert on a transaction.", nil
}

/*
SetPropertyFunc overwrites a vertex property on an update transaction:
db.setProperty(trans, label, vid, col, val).
*/
type SetPropertyFunc struct {
	Mgr *txn.Manager
}

func (f *SetPropertyFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 5 {
		return nil, fmt.Errorf("Function requires 5 parameters: transaction, vertex label, vid, column and value")
	}

	ut, ok := args[0].(*txn.UpdateTransaction)
	if !ok {
		return nil, fmt.Errorf("First parameter must be an update transaction")
	}
	label := fmt.Sprint(args[1])
	vid, err := toUint32(args[2])
	if err != nil {
		return nil, fmt.Errorf("Vid must be a number not: %v", args[2])
	}
	col, err := strconv.Atoi(fmt.Sprint(args[3]))
	if err != nil {
		return nil, fmt.Errorf("Column must be a number not: %v", args[3])
	}

	return nil, ut.SetProperty(label, vid, col, args[4])
}

func (f *SetPropertyFunc) DocString() (string, error) {
	return "Overwrites a vertex property on an update transaction.", nil
}

/*
GetVertexFunc looks up a vertex's vid: db.getVertex(label, key). Reads
via a fresh, immediately-closed ReadTransaction rather than requiring a
script to manage one, since a single lookup has no use for a held
snapshot.
*/
type GetVertexFunc struct {
	Mgr *txn.Manager
}

func (f *GetVertexFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("Function requires 2 parameters: vertex label and key")
	}
	label := fmt.Sprint(args[0])
	key, err := toInt64(args[1])
	if err != nil {
		return nil, fmt.Errorf("Key must be a number not: %v", args[1])
	}

	rt := f.Mgr.Read()
	defer rt.Close()

	vid, found, err := rt.GetVertex(label, key)
	if err != nil || !found {
		return nil, err
	}
	return vid, nil
}

func (f *GetVertexFunc) DocString() (string, error) {
	return "Looks up a vertex's internal id by label and key.", nil
}

/*
GetPropertyFunc reads a vertex property: db.getProperty(label, vid, col).
*/
type GetPropertyFunc struct {
	Mgr *txn.Manager
}

func (f *GetPropertyFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("Function requires 3 parameters: vertex label, vid and column")
	}
	label := fmt.Sprint(args[0])
	vid, err := toUint32(args[1])
	if err != nil {
		return nil, fmt.Errorf("Vid must be a number not: %v", args[1])
	}
	col, err := strconv.Atoi(fmt.Sprint(args[2]))
	if err != nil {
		return nil, fmt.Errorf("Column must be a number not: %v", args[2])
	}

	rt := f.Mgr.Read()
	defer rt.Close()

	return rt.GetProperty(label, vid, col)
}

func (f *GetPropertyFunc) DocString() (string, error) {
	return "Reads a vertex property by label, vid and column.", nil
}

/*
VertexNumFunc returns the number of vertices stored for a label:
db.vertexNum(label).
*/
type VertexNumFunc struct {
	Mgr *txn.Manager
}

func (f *VertexNumFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("Function requires 1 parameter: vertex label")
	}
	label := fmt.Sprint(args[0])

	rt := f.Mgr.Read()
	defer rt.Close()

	return rt.VertexNum(label)
}

func (f *VertexNumFunc) DocString() (string, error) {
	return "Returns the number of vertices stored for a label.", nil
}

func edgeRecordsToECAL(recs []fragment.EdgeRecord) []interface{} {
	res := make([]interface{}, len(recs))
	for i, r := range recs {
		res[i] = map[interface{}]interface{}{
			"neighbor":  r.Neighbor,
			"timestamp": r.Timestamp,
			"prop":      r.Prop,
		}
	}
	return res
}

/*
OutEdgesFunc lists a vertex's outgoing edges at the latest published
timestamp, read through a fresh, immediately-closed ReadTransaction:
db.outEdges(srcLabel, srcVid, edgeLabel, dstLabel).
*/
type OutEdgesFunc struct {
	Mgr *txn.Manager
}

func (f *OutEdgesFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("Function requires 4 parameters: source label, source vid, edge label and destination label")
	}
	srcLabel := fmt.Sprint(args[0])
	srcVid, err := toUint32(args[1])
	if err != nil {
		return nil, fmt.Errorf("Source vid must be a number not: %v", args[1])
	}
	edgeLabel := fmt.Sprint(args[2])
	dstLabel := fmt.Sprint(args[3])

	rt := f.Mgr.Read()
	defer rt.Close()

	recs, err := rt.OutEdges(srcLabel, srcVid, edgeLabel, dstLabel)
	if err != nil {
		return nil, err
	}
	return edgeRecordsToECAL(recs), nil
}

func (f *OutEdgesFunc) DocString() (string, error) {
	return "Lists a vertex's outgoing edges.", nil
}

/*
InEdgesFunc lists a vertex's incoming edges: db.inEdges(srcLabel,
dstLabel, dstVid, edgeLabel).
*/
type InEdgesFunc struct {
	Mgr *txn.Manager
}

func (f *InEdgesFunc) Run(instanceID string, vs parser.Scope, is map[string]interface{}, tid uint64, args []interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("Function requires 4 parameters: source label, destination label, destination vid and edge label")
	}
	srcLabel := fmt.Sprint(args[0])
	dstLabel := fmt.Sprint(args[1])
	dstVid, err := toUint32(args[2])
	if err != nil {
		return nil, fmt.Errorf("Destination vid must be a number not: %v", args[2])
	}
	edgeLabel := fmt.Sprint(args[3])

	rt := f.Mgr.Read()
	defer rt.Close()

	recs, err := rt.InEdges(srcLabel, dstLabel, dstVid, edgeLabel)
	if err != nil {
		return nil, err
	}
	return edgeRecordsToECAL(recs), nil
}

func (f *InEdgesFunc) DocString() (string, error) {
	return "Lists a vertex's incoming edges.", nil
}
