// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package amira_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/amira"
)

func rawHeader(format string, x, y, z int, dtype string) string {
	return fmt.Sprintf(`# AmiraMesh %s 2.1


define Lattice %d %d %d

Parameters {
    Content "%dx%dx%d %s, uniform coordinates",
    BoundingBox 0 %d 0 %d 0 %d,
    CoordType "uniform"
}

Lattice { %s Data } @1

# Data section follows
@1
`, format, x, y, z, x, y, z, dtype, x-1, y-1, z-1, dtype)
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	md, err := amira.ReadHeader(strings.NewReader(
		rawHeader("BINARY-LITTLE-ENDIAN", 4, 3, 2, "byte")))
	require.NoError(t, err)

	assert.Equal(t, "AmiraMesh", md.Software)
	assert.Equal(t, "BINARY-LITTLE-ENDIAN", md.Format)
	assert.Equal(t, "2.1", md.FormatVersion)
	assert.Equal(t, [3]int{4, 3, 2}, md.Dims)
	assert.Equal(t, amira.Uint8, md.DataType)
	assert.Equal(t, "uniform", md.CoordType)
	assert.Equal(t, [6]float64{0, 3, 0, 2, 0, 1}, md.BoundingBox)
	assert.Equal(t, "pixels", md.Units)
	assert.Equal(t, "raw", md.Encoding)

	// (max-min)/(dim-1) is 1.0 on every axis here.
	assert.True(t, md.Resolution.Isotropic)
	assert.Equal(t, 1.0, md.Resolution.Value)
	assert.Equal(t, [3]float64{1, 1, 1}, md.Resolution.ZYX)

	order, err := md.ByteOrder()
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian, order)
}

func TestReadHeader3DMagic(t *testing.T) {
	t.Parallel()

	md, err := amira.ReadHeader(strings.NewReader(
		rawHeader("3D BINARY", 2, 2, 2, "short")))
	require.NoError(t, err)

	assert.Equal(t, "BINARY", md.Format)
	assert.Equal(t, "2.1", md.FormatVersion)
	assert.Equal(t, amira.Int16, md.DataType)

	order, err := md.ByteOrder()
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, order)
}

func TestReadHeaderASCII(t *testing.T) {
	t.Parallel()

	md, err := amira.ReadHeader(strings.NewReader(
		rawHeader("ASCII", 2, 2, 2, "float")))
	require.NoError(t, err)

	_, err = md.ByteOrder()
	assert.ErrorIs(t, err, amira.ErrASCIIUnsupported)
}

func TestReadHeaderRLEDeclaration(t *testing.T) {
	t.Parallel()

	header := `# AmiraMesh BINARY-LITTLE-ENDIAN 2.1

define Lattice 500 500 100

Parameters {
    Content "500x500x100 byte, uniform coordinates",
    BoundingBox 0 499 0 499 0 99,
    CoordType "uniform"
}

Lattice { byte Labels } @1(HxByteRLE,1803306)

# Data section follows
@1
`
	md, err := amira.ReadHeader(strings.NewReader(header))
	require.NoError(t, err)
	assert.Equal(t, "@1(HxByteRLE1803306)", md.Encoding)
}

func TestReadHeaderAnisotropic(t *testing.T) {
	t.Parallel()

	header := `# AmiraMesh BINARY-LITTLE-ENDIAN 2.1

define Lattice 3 3 3

Parameters {
    Content "3x3x3 byte, uniform coordinates",
    BoundingBox 0 2 0 2 0 10,
    CoordType "uniform"
}

Lattice { byte Data } @1

# Data section follows
@1
`
	md, err := amira.ReadHeader(strings.NewReader(header))
	require.NoError(t, err)
	assert.False(t, md.Resolution.Isotropic)
	assert.Equal(t, [3]float64{5, 1, 1}, md.Resolution.ZYX)
}

func TestDecodeRaw(t *testing.T) {
	t.Parallel()

	// x=2, y=1, z=2; two z planes, written low plane first.
	payload := []byte{0x0a, 0x0b, 0x0c, 0x0d}
	input := rawHeader("BINARY-LITTLE-ENDIAN", 2, 1, 2, "byte") + string(payload) + "\n"

	md, arr, err := amira.Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 1, 2}, md.Dims)
	assert.Equal(t, [3]int{2, 1, 2}, arr.Dims)
	assert.Equal(t, amira.Uint8, arr.DType)

	// The z axis is flipped on decode.
	assert.Equal(t, []byte{0x0c, 0x0d, 0x0a, 0x0b}, arr.Data)
	assert.Equal(t, float64(0x0c), arr.At(0, 0, 0))
	assert.Equal(t, float64(0x0a), arr.At(1, 0, 0))
	assert.Equal(t, float64(0x0b), arr.At(1, 0, 1))
}

func TestDecodeRawLengthMismatch(t *testing.T) {
	t.Parallel()

	input := rawHeader("BINARY-LITTLE-ENDIAN", 2, 1, 2, "byte") + "xy"
	_, _, err := amira.Decode(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 bytes, want 4")
}

func TestDecodeRLE(t *testing.T) {
	t.Parallel()

	// 4x3x2 bytes: 3 literals, then 7 repeated 21 times.
	encoded := []byte{0x83, 1, 2, 3, 0x15, 7}
	header := fmt.Sprintf(`# AmiraMesh BINARY-LITTLE-ENDIAN 2.1

define Lattice 4 3 2

Parameters {
    Content "4x3x2 byte, uniform coordinates",
    BoundingBox 0 3 0 2 0 1,
    CoordType "uniform"
}

Lattice { byte Labels } @1(HxByteRLE,%d)

# Data section follows
@1
`, len(encoded))

	_, arr, err := amira.Decode(strings.NewReader(header + string(encoded)))
	require.NoError(t, err)
	require.Len(t, arr.Data, 24)

	// Plane z=1 (the original z=0 plane after the flip) starts with the
	// literal run.
	assert.Equal(t, float64(7), arr.At(0, 0, 0))
	assert.Equal(t, float64(1), arr.At(1, 0, 0))
	assert.Equal(t, float64(2), arr.At(1, 0, 1))
	assert.Equal(t, float64(3), arr.At(1, 0, 2))
	assert.Equal(t, float64(7), arr.At(1, 0, 3))
}

func TestDecodeRLECorrupt(t *testing.T) {
	t.Parallel()

	header := `# AmiraMesh BINARY-LITTLE-ENDIAN 2.1

define Lattice 2 1 1

Parameters {
    Content "2x1x1 byte, uniform coordinates",
    BoundingBox 0 1 0 0 0 0,
    CoordType "uniform"
}

Lattice { byte Labels } @1(HxByteRLE,3)

# Data section follows
@1
`
	_, _, err := amira.Decode(strings.NewReader(header + string([]byte{0x01, 0x09, 0x00})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero control byte at offset 2")
}

func TestDecodeShortLittleEndian(t *testing.T) {
	t.Parallel()

	// x=1, y=1, z=2, int16 little-endian: -2 then 300.
	var payload bytes.Buffer
	require.NoError(t, binary.Write(&payload, binary.LittleEndian, []int16{-2, 300}))
	input := rawHeader("BINARY-LITTLE-ENDIAN", 1, 1, 2, "short") + payload.String()

	_, arr, err := amira.Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, float64(300), arr.At(0, 0, 0))
	assert.Equal(t, float64(-2), arr.At(1, 0, 0))
}

func TestWriteNPY(t *testing.T) {
	t.Parallel()

	arr := &amira.Array{
		Dims:  [3]int{2, 1, 2},
		DType: amira.Uint8,
		Order: binary.LittleEndian,
		Data:  []byte{1, 2, 3, 4},
	}
	var buf bytes.Buffer
	require.NoError(t, amira.WriteNPY(&buf, arr))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte("\x93NUMPY\x01\x00")))
	headerLen := int(binary.LittleEndian.Uint16(out[8:10]))
	assert.Equal(t, 0, (10+headerLen)%64, "header must pad to a 64-byte boundary")

	header := string(out[10 : 10+headerLen])
	assert.Contains(t, header, "'descr': '|u1'")
	assert.Contains(t, header, "'fortran_order': False")
	assert.Contains(t, header, "'shape': (2, 1, 2)")
	assert.True(t, strings.HasSuffix(header, "\n"))

	assert.Equal(t, []byte{1, 2, 3, 4}, out[10+headerLen:])
}

func TestWriteNPYBigEndianFloat(t *testing.T) {
	t.Parallel()

	arr := &amira.Array{
		Dims:  [3]int{1, 1, 1},
		DType: amira.Float32,
		Order: binary.BigEndian,
		Data:  []byte{0x3f, 0x80, 0x00, 0x00},
	}
	var buf bytes.Buffer
	require.NoError(t, amira.WriteNPY(&buf, arr))
	assert.Contains(t, buf.String(), "'descr': '>f4'")
	assert.Equal(t, 1.0, arr.At(0, 0, 0))
}
