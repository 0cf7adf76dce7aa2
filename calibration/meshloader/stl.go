package meshloader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

const (
	stlHeaderSize   = 80
	stlTriangleSize = 50
)

// ErrBadSTL is returned for files that are neither binary nor ASCII STL.
var ErrBadSTL = errors.New("malformed STL")

// ParseSTL reads binary or ASCII STL data into triangles.
func ParseSTL(raw []byte) ([]*spatialmath.Triangle, error) {
	if isBinarySTL(raw) {
		return parseBinarySTL(raw)
	}
	return parseASCIISTL(bytes.NewReader(raw))
}

// Binary files may also start with "solid", so the size check decides.
func isBinarySTL(raw []byte) bool {
	if len(raw) < stlHeaderSize+4 {
		return false
	}
	count := binary.LittleEndian.Uint32(raw[stlHeaderSize:])
	return uint64(len(raw)) == uint64(stlHeaderSize+4)+uint64(count)*stlTriangleSize
}

func parseBinarySTL(raw []byte) ([]*spatialmath.Triangle, error) {
	count := int(binary.LittleEndian.Uint32(raw[stlHeaderSize:]))
	triangles := make([]*spatialmath.Triangle, 0, count)
	offset := stlHeaderSize + 4
	readVec := func(at int) r3.Vector {
		return r3.Vector{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[at:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[at+4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[at+8:]))),
		}
	}
	for i := 0; i < count; i++ {
		base := offset + i*stlTriangleSize
		// Skip the 12 byte facet normal; it is recomputed from the vertices.
		triangles = append(triangles, spatialmath.NewTriangle(readVec(base+12), readVec(base+24), readVec(base+36)))
	}
	return triangles, nil
}

func parseASCIISTL(r io.Reader) ([]*spatialmath.Triangle, error) {
	scanner := bufio.NewScanner(r)
	var (
		triangles []*spatialmath.Triangle
		vertices  []r3.Vector
		sawSolid  bool
		line      int
	)
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "solid":
			sawSolid = true
		case "vertex":
			if len(fields) != 4 {
				return nil, errors.Wrapf(ErrBadSTL, "line %d: vertex needs 3 coordinates", line)
			}
			var v [3]float64
			for i := range v {
				parsed, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, errors.Wrapf(ErrBadSTL, "line %d: %v", line, err)
				}
				v[i] = parsed
			}
			vertices = append(vertices, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
		case "endloop":
			if len(vertices) != 3 {
				return nil, errors.Wrapf(ErrBadSTL, "line %d: facet has %d vertices", line, len(vertices))
			}
			triangles = append(triangles, spatialmath.NewTriangle(vertices[0], vertices[1], vertices[2]))
			vertices = vertices[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawSolid {
		return nil, errors.Wrap(ErrBadSTL, "missing solid header")
	}
	return triangles, nil
}
