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
	"encoding/binary"
	"io"
	"math"

	"github.com/krotik/graphdb/storeerr"
)

/*
Value tags identify the dynamic type of a WAL-encoded interface{}. The WAL
itself has no schema to consult (unlike table.Column, which knows its
property type up front), so every property value carries its own tag.
*/
const (
	tagNil byte = iota
	tagInt32
	tagInt64
	tagUint32
	tagUint64
	tagDouble
	tagBool
	tagString
)

func writeValue(w io.Writer, v interface{}) error {
	switch x := v.(type) {
	case nil:
		return writeByte(w, tagNil)
	case int32:
		if err := writeByte(w, tagInt32); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, x)
	case int64:
		if err := writeByte(w, tagInt64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, x)
	case uint32:
		if err := writeByte(w, tagUint32); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, x)
	case uint64:
		if err := writeByte(w, tagUint64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, x)
	case float64:
		if err := writeByte(w, tagDouble); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, math.Float64bits(x))
	case bool:
		if err := writeByte(w, tagBool); err != nil {
			return err
		}
		b := byte(0)
		if x {
			b = 1
		}
		return writeByte(w, b)
	case string:
		if err := writeByte(w, tagString); err != nil {
			return err
		}
		return writeString(w, x)
	}
	return storeerr.New(storeerr.ErrCorruptLog, "unsupported WAL value type")
}

func readValue(r io.Reader) (interface{}, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
		return nil, nil
	case tagInt32:
		var x int32
		err := binary.Read(r, binary.LittleEndian, &x)
		return x, err
	case tagInt64:
		var x int64
		err := binary.Read(r, binary.LittleEndian, &x)
		return x, err
	case tagUint32:
		var x uint32
		err := binary.Read(r, binary.LittleEndian, &x)
		return x, err
	case tagUint64:
		var x uint64
		err := binary.Read(r, binary.LittleEndian, &x)
		return x, err
	case tagDouble:
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case tagBool:
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case tagString:
		return readString(r)
	}
	return nil, storeerr.New(storeerr.ErrCorruptLog, "unknown WAL value tag")
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
