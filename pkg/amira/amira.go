// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package amira reads AmiraMesh (Avizo) volume data files, the fixture format
// the beam-line libraries ship their sample volumes in.  It is a codec only;
// it does no image processing.
package amira

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrASCIIUnsupported is returned for AmiraMesh files with an ASCII data
// section; only the binary variants occur in practice.
var ErrASCIIUnsupported = errors.New("amira: ASCII data sections are not supported")

// A DType is an AmiraMesh element type, under its header spelling.
type DType string

const (
	Float32 DType = "float"
	Int16   DType = "short"
	Uint16  DType = "ushort"
	Uint8   DType = "byte"
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Int16, Uint16:
		return 2
	case Uint8:
		return 1
	}
	return 0
}

type Resolution struct {
	// Isotropic is whether the three per-axis voxel spacings agree within 1%.
	Isotropic bool
	// Value is the common spacing when isotropic.
	Value float64
	// ZYX is the per-axis spacing, z-major.
	ZYX [3]float64
}

type Metadata struct {
	Software      string
	Format        string // "BINARY-LITTLE-ENDIAN", "BINARY", or "ASCII"
	FormatVersion string

	// Dims is x, y, z, as declared by `define Lattice`.
	Dims     [3]int
	DataType DType

	CoordType   string
	BoundingBox [6]float64 // xmin, xmax, ymin, ymax, zmin, zmax
	Resolution  Resolution
	Units       string

	// Encoding is "raw", or the `@1(HxByteRLE,<n>)` declaration.
	Encoding string
}

// ByteOrder returns the byte order the data section was written in.
func (md *Metadata) ByteOrder() (binary.ByteOrder, error) {
	switch md.Format {
	case "BINARY-LITTLE-ENDIAN":
		return binary.LittleEndian, nil
	case "BINARY":
		return binary.BigEndian, nil
	case "ASCII":
		return nil, ErrASCIIUnsupported
	default:
		return nil, fmt.Errorf("amira: unknown data format %q", md.Format)
	}
}

// dataSectionMarker separates the header from the payload; one more line (the
// `@1` tag) follows it before the data.
const dataSectionMarker = "# Data section follows"

// ReadHeader parses the ASCII header.  To read the data section too, use
// Decode; ReadHeader alone may buffer past the header.
func ReadHeader(r io.Reader) (*Metadata, error) {
	return readHeader(bufio.NewReader(r))
}

// readHeader leaves r positioned at the start of the data section.
func readHeader(r *bufio.Reader) (_ *Metadata, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("amira.ReadHeader: %w", err)
		}
	}()

	md := &Metadata{Units: "pixels", Encoding: "raw"}

	first := true
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("no %q marker before EOF", dataSectionMarker)
			}
			return nil, err
		}
		if strings.TrimRight(line, "\n") == dataSectionMarker {
			// The `@1` tag line.
			if _, err := r.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			break
		}

		toks := tokenize(line)
		if len(toks) == 0 {
			continue
		}
		if first {
			first = false
			if err := md.parseMagic(toks); err != nil {
				return nil, err
			}
			continue
		}
		if err := md.parseLine(toks); err != nil {
			return nil, err
		}
	}

	if md.Dims[0] == 0 || md.Dims[1] == 0 || md.Dims[2] == 0 {
		return nil, fmt.Errorf("no `define Lattice` declaration")
	}
	if md.DataType.Size() == 0 {
		return nil, fmt.Errorf("unknown or missing data type %q", md.DataType)
	}
	return md, nil
}

// tokenize splits a header line in to words, dropping the commas and quotes
// that decorate the declarations.
func tokenize(line string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || r == '"' {
			return -1
		}
		return r
	}, line)
	return strings.Fields(cleaned)
}

func (md *Metadata) parseMagic(toks []string) error {
	// `# AmiraMesh BINARY-LITTLE-ENDIAN 2.1`, with an optional `3D` wedged in
	// by older writers: `# AmiraMesh 3D BINARY 2.0`.
	if len(toks) < 4 || toks[1] != "AmiraMesh" {
		return fmt.Errorf("not an AmiraMesh file (first line %q)", strings.Join(toks, " "))
	}
	md.Software = toks[1]
	md.Format = toks[2]
	md.FormatVersion = toks[3]
	if md.Format == "3D" {
		if len(toks) < 5 {
			return fmt.Errorf("truncated AmiraMesh 3D magic")
		}
		md.Format = toks[3]
		md.FormatVersion = toks[4]
	}
	return nil
}

var reRLE = regexp.MustCompile(`^@1\(HxByteRLE,?(\d+)\)$`)

func (md *Metadata) parseLine(toks []string) error {
	idx := func(word string) int {
		for i, tok := range toks {
			if tok == word {
				return i
			}
		}
		return -1
	}

	switch {
	case idx("define") >= 0:
		i := idx("define")
		if len(toks) < i+5 {
			return fmt.Errorf("truncated define: %q", strings.Join(toks, " "))
		}
		for axis := 0; axis < 3; axis++ {
			dim, err := strconv.Atoi(toks[i+2+axis])
			if err != nil {
				return fmt.Errorf("define Lattice: %w", err)
			}
			md.Dims[axis] = dim
		}
	case idx("Content") >= 0:
		i := idx("Content")
		if len(toks) > i+2 {
			md.DataType = DType(toks[i+2])
		}
	case idx("CoordType") >= 0:
		i := idx("CoordType")
		if len(toks) > i+1 {
			md.CoordType = toks[i+1]
		}
	case idx("BoundingBox") >= 0:
		i := idx("BoundingBox")
		if len(toks) < i+7 {
			return fmt.Errorf("truncated BoundingBox: %q", strings.Join(toks, " "))
		}
		for j := 0; j < 6; j++ {
			val, err := strconv.ParseFloat(toks[i+1+j], 64)
			if err != nil {
				return fmt.Errorf("BoundingBox: %w", err)
			}
			md.BoundingBox[j] = val
		}
		md.Resolution = resolution(md.BoundingBox, md.Dims)
	case idx("Units") >= 0:
		i := idx("Units")
		if len(toks) > i+2 {
			md.Units = toks[i+2]
		}
	case toks[0] == "Lattice":
		// `Lattice { byte Data } @1` is raw; `Lattice { byte Labels }
		// @1(HxByteRLE,1803306)` is run-length encoded.
		if len(toks) >= 3 && md.DataType == "" {
			md.DataType = DType(toks[2])
		}
		last := toks[len(toks)-1]
		if reRLE.MatchString(last) {
			md.Encoding = last
		}
	}
	return nil
}

// resolution computes per-axis voxel spacing from the bounding box, and
// whether the volume is isotropic (spacings within 1% of each other).
func resolution(bbox [6]float64, dims [3]int) Resolution {
	var res [3]float64 // x, y, z
	for axis := 0; axis < 3; axis++ {
		if dims[axis] > 1 {
			res[axis] = (bbox[2*axis+1] - bbox[2*axis]) / float64(dims[axis]-1)
		}
	}
	ret := Resolution{ZYX: [3]float64{res[2], res[1], res[0]}}
	if res[0] != 0 {
		yRatio := res[1] / res[0]
		zRatio := res[2] / res[0]
		if yRatio > 0.99 && yRatio < 1.01 && zRatio > 0.99 && zRatio < 1.01 {
			ret.Isotropic = true
			ret.Value = res[0]
		}
	}
	return ret
}

// An Array is a decoded volume, C-ordered with dims in z, y, x order.
type Array struct {
	Dims  [3]int // z, y, x
	DType DType
	Order binary.ByteOrder
	Data  []byte
}

// At returns the element at (z, y, x) as a float64, whatever the dtype.
func (a *Array) At(z, y, x int) float64 {
	size := a.DType.Size()
	off := ((z*a.Dims[1]+y)*a.Dims[2] + x) * size
	switch a.DType {
	case Uint8:
		return float64(a.Data[off])
	case Int16:
		return float64(int16(a.Order.Uint16(a.Data[off : off+2])))
	case Uint16:
		return float64(a.Order.Uint16(a.Data[off : off+2]))
	case Float32:
		return float64(math.Float32frombits(a.Order.Uint32(a.Data[off : off+4])))
	}
	return 0
}

// Decode reads the whole file: header, then payload.
func Decode(r io.Reader) (_ *Metadata, _ *Array, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("amira.Decode: %w", err)
		}
	}()

	bufReader := bufio.NewReader(r)
	md, err := readHeader(bufReader)
	if err != nil {
		return nil, nil, err
	}
	order, err := md.ByteOrder()
	if err != nil {
		return nil, nil, err
	}

	payload, err := io.ReadAll(bufReader)
	if err != nil {
		return nil, nil, err
	}
	payload = trimNewlines(payload)

	want := md.Dims[0] * md.Dims[1] * md.Dims[2] * md.DataType.Size()
	var data []byte
	if match := reRLE.FindStringSubmatch(md.Encoding); match != nil {
		if md.DataType != Uint8 {
			return nil, nil, fmt.Errorf("HxByteRLE encoding with non-byte data type %q", md.DataType)
		}
		encodedLen, _ := strconv.Atoi(match[1])
		if len(payload) != encodedLen {
			return nil, nil, fmt.Errorf("RLE stream is %d bytes, header declares %d",
				len(payload), encodedLen)
		}
		data, err = decodeRLE(payload, want)
		if err != nil {
			return nil, nil, err
		}
	} else {
		if len(payload) != want {
			return nil, nil, fmt.Errorf("data section is %d bytes, want %d (%dx%dx%d %s)",
				len(payload), want, md.Dims[0], md.Dims[1], md.Dims[2], md.DataType)
		}
		data = payload
	}

	flipZ(data, md.Dims, md.DataType.Size())
	return md, &Array{
		Dims:  [3]int{md.Dims[2], md.Dims[1], md.Dims[0]},
		DType: md.DataType,
		Order: order,
		Data:  data,
	}, nil
}

// decodeRLE expands an HxByteRLE stream: a control byte above 0x7f means the
// next (x & 0x7f) bytes are literal, otherwise repeat the next byte x times.
// A zero control byte means the stream is corrupt.
func decodeRLE(encoded []byte, want int) ([]byte, error) {
	ret := make([]byte, 0, want)
	pos := 0
	for len(ret) < want {
		if pos >= len(encoded) {
			return nil, fmt.Errorf("RLE stream truncated at offset %d (%d of %d bytes decoded)",
				pos, len(ret), want)
		}
		x := encoded[pos]
		if x == 0 {
			return nil, fmt.Errorf("corrupt RLE stream: zero control byte at offset %d", pos)
		}
		pos++
		if x > 0x7f {
			n := int(x & 0x7f)
			if pos+n > len(encoded) {
				return nil, fmt.Errorf("RLE stream truncated at offset %d", pos)
			}
			ret = append(ret, encoded[pos:pos+n]...)
			pos += n
		} else {
			if pos >= len(encoded) {
				return nil, fmt.Errorf("RLE stream truncated at offset %d", pos)
			}
			for i := 0; i < int(x); i++ {
				ret = append(ret, encoded[pos])
			}
			pos++
		}
	}
	if len(ret) != want {
		return nil, fmt.Errorf("RLE decoded to %d bytes, want %d", len(ret), want)
	}
	return ret, nil
}

// flipZ reverses the z planes in place; the files index z opposite to the
// convention everything downstream expects.
func flipZ(data []byte, dims [3]int, elemSize int) {
	planeSize := dims[0] * dims[1] * elemSize
	zDim := dims[2]
	tmp := make([]byte, planeSize)
	for lo, hi := 0, zDim-1; lo < hi; lo, hi = lo+1, hi-1 {
		a := data[lo*planeSize : (lo+1)*planeSize]
		b := data[hi*planeSize : (hi+1)*planeSize]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

func trimNewlines(data []byte) []byte {
	for len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return data
}
