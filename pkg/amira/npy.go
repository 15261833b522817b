// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package amira

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// npyDescr is the NumPy dtype string for the array's element type and byte
// order.
func npyDescr(a *Array) (string, error) {
	var kind string
	switch a.DType {
	case Float32:
		kind = "f4"
	case Int16:
		kind = "i2"
	case Uint16:
		kind = "u2"
	case Uint8:
		return "|u1", nil
	default:
		return "", fmt.Errorf("unknown data type %q", a.DType)
	}
	switch a.Order {
	case binary.LittleEndian:
		return "<" + kind, nil
	case binary.BigEndian:
		return ">" + kind, nil
	default:
		return "", fmt.Errorf("unknown byte order %v", a.Order)
	}
}

// WriteNPY serializes the array as a NumPy `.npy` version 1.0 file, shape
// (z, y, x), element bytes verbatim.
func WriteNPY(w io.Writer, a *Array) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("amira.WriteNPY: %w", err)
		}
	}()

	descr, err := npyDescr(a)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d, %d), }",
		descr, a.Dims[0], a.Dims[1], a.Dims[2])
	// Magic (6) + version (2) + header length (2) + header must pad out to a
	// multiple of 64 bytes, newline terminated.
	padded := len(header) + 1
	if rem := (10 + padded) % 64; rem != 0 {
		padded += 64 - rem
	}
	header += strings.Repeat(" ", padded-len(header)-1) + "\n"

	buf := make([]byte, 10+len(header))
	copy(buf, "\x93NUMPY\x01\x00")
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(header)))
	copy(buf[10:], header)
	if _, err := w.Write(buf); err != nil {
		return err
	}

	want := a.Dims[0] * a.Dims[1] * a.Dims[2] * a.DType.Size()
	if len(a.Data) != want {
		return fmt.Errorf("array data is %d bytes, want %d for %dx%dx%d %s",
			len(a.Data), want, a.Dims[0], a.Dims[1], a.Dims[2], a.DType)
	}
	_, err = w.Write(a.Data)
	return err
}
