/*
 * graphdb
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package schema

import (
	"io"

	"github.com/krotik/graphdb/storeerr"
	"gopkg.in/yaml.v3"
)

/*
yamlDoc mirrors the on-disk schema document fields enumerated in spec §6.
Only the fields the core cares about are decoded; stored_procedures is
decoded into a raw node and then dropped - LoadYAML does not return it,
since the plugin loader that would consume it lives outside the core.
*/
type yamlDoc struct {
	Name            string    `yaml:"name"`
	StoreType       string    `yaml:"store_type"`
	StoredProcedures yaml.Node `yaml:"stored_procedures"`
	Schema          yamlSchema `yaml:"schema"`
}

type yamlSchema struct {
	VertexTypes []yamlVertexType `yaml:"vertex_types"`
	EdgeTypes   []yamlEdgeType   `yaml:"edge_types"`
}

type yamlVertexType struct {
	TypeName   string           `yaml:"type_name"`
	Properties []yamlProperty   `yaml:"properties"`
	PrimaryKeys []string        `yaml:"primary_keys"`
	XCSRParams yamlVertexParams `yaml:"x_csr_params"`
}

type yamlVertexParams struct {
	MaxVertexNum uint64 `yaml:"max_vertex_num"`
}

type yamlProperty struct {
	PropertyID   int    `yaml:"property_id"`
	PropertyName string `yaml:"property_name"`
	PropertyType struct {
		PrimitiveType string `yaml:"primitive_type"`
	} `yaml:"property_type"`
}

type yamlEdgeType struct {
	TypeName               string                       `yaml:"type_name"`
	VertexTypePairRelations []yamlVertexTypePairRelation `yaml:"vertex_type_pair_relations"`
}

type yamlVertexTypePairRelation struct {
	SourceVertex      string         `yaml:"source_vertex"`
	DestinationVertex string         `yaml:"destination_vertex"`
	Relation          string         `yaml:"relation"`
	XCSRParams        yamlEdgeParams `yaml:"x_csr_params"`
	Properties        []yamlProperty `yaml:"properties"`
}

type yamlEdgeParams struct {
	IncomingEdgeStrategy string `yaml:"incoming_edge_strategy"`
	OutgoingEdgeStrategy string `yaml:"outgoing_edge_strategy"`
}

/*
LoadYAML decodes a schema document (spec §6) from r and validates it.
*/
func LoadYAML(r io.Reader) (*Schema, error) {
	var doc yamlDoc

	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, storeerr.New(storeerr.ErrSchema, err.Error())
	}

	s := &Schema{
		Name:      doc.Name,
		StoreType: doc.StoreType,
	}

	for _, vt := range doc.Schema.VertexTypes {
		v := VertexType{Name: vt.TypeName}

		if len(vt.PrimaryKeys) != 1 {
			return nil, storeerr.New(storeerr.ErrSchema,
				"vertex type "+vt.TypeName+" must declare exactly one primary key")
		}

		// Properties are ordered with the primary key first, per spec §3.
		props := make([]Property, 0, len(vt.Properties))
		var pk *Property
		for _, p := range vt.Properties {
			pt, err := ParsePrimitiveType(p.PropertyType.PrimitiveType)
			if err != nil {
				return nil, err
			}
			prop := Property{ID: p.PropertyID, Name: p.PropertyName, Type: pt}
			if p.PropertyName == vt.PrimaryKeys[0] {
				pk = &prop
				continue
			}
			props = append(props, prop)
		}
		if pk == nil {
			return nil, storeerr.New(storeerr.ErrSchema,
				"vertex type "+vt.TypeName+" primary key not found among properties")
		}
		v.Properties = append([]Property{*pk}, props...)

		v.MaxVertexNum = vt.XCSRParams.MaxVertexNum
		if v.MaxVertexNum == 0 {
			v.MaxVertexNum = DefaultMaxVertexNum
		}

		s.Vertices = append(s.Vertices, v)
	}

	for _, et := range doc.Schema.EdgeTypes {
		e := EdgeType{Name: et.TypeName}

		for _, rel := range et.VertexTypePairRelations {
			card, err := ParseCardinality(rel.Relation)
			if err != nil {
				return nil, err
			}

			out, err := ParseStrategy(rel.XCSRParams.OutgoingEdgeStrategy)
			if err != nil {
				return nil, err
			}
			in, err := ParseStrategy(rel.XCSRParams.IncomingEdgeStrategy)
			if err != nil {
				return nil, err
			}

			t := Triplet{
				Source:           rel.SourceVertex,
				Destination:      rel.DestinationVertex,
				Cardinality:      card,
				OutgoingStrategy: out,
				IncomingStrategy: in,
				PropertyType:     DTInvalid,
			}

			if len(rel.Properties) > 1 {
				return nil, storeerr.New(storeerr.ErrSchema,
					"edge type "+et.TypeName+" may have at most one property")
			}
			if len(rel.Properties) == 1 {
				pt, err := ParsePrimitiveType(rel.Properties[0].PropertyType.PrimitiveType)
				if err != nil {
					return nil, err
				}
				t.PropertyType = pt
			}

			e.Triplets = append(e.Triplets, t)
		}

		s.Edges = append(s.Edges, e)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}
