// Package mesh defines the tokenized representation of quantized polygon
// meshes: vertices and faces become flat integer token sequences with
// reserved sentinel values for stop, padding and face boundaries.
package mesh

import (
	"cmp"
	"slices"

	"github.com/meshforge/meshgen/types/errtypes"
)

const (
	// StopToken terminates a flattened sequence. Padded positions reuse
	// the same value so a mask is required to tell them apart.
	StopToken int32 = 0

	// NewFaceToken separates consecutive faces in a flattened face
	// sequence.
	NewFaceToken int32 = 1

	// FaceIndexOffset is added to vertex indices in flattened face
	// sequences so they never collide with StopToken or NewFaceToken.
	FaceIndexOffset int32 = 2

	// CoordinateOffset is added to quantized coordinate values in
	// flattened vertex sequences so they never collide with StopToken.
	CoordinateOffset int32 = 1
)

// Mesh is a quantized polygon mesh. Vertices hold [x, y, z] integer
// coordinates in [0, 2^quantizationBits). Faces hold ordered index lists
// into Vertices; every index must be < len(Vertices).
type Mesh struct {
	Vertices   [][3]int32
	Faces      [][]int32
	ClassLabel int32
}

// FlattenOptions caps the flattened sequence lengths. Zero means no cap.
type FlattenOptions struct {
	MaxNumVertices int
	MaxSeqLength   int
}

// SortVertices returns the vertices in canonical (Z, Y, X) ascending order
// along with the mapping from old index to new index, so faces can be
// re-indexed to match.
func SortVertices(vertices [][3]int32) ([][3]int32, []int32) {
	order := make([]int, len(vertices))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(i, j int) int {
		a, b := vertices[i], vertices[j]
		if c := cmp.Compare(a[2], b[2]); c != 0 {
			return c
		}
		if c := cmp.Compare(a[1], b[1]); c != 0 {
			return c
		}
		return cmp.Compare(a[0], b[0])
	})

	sorted := make([][3]int32, len(vertices))
	remap := make([]int32, len(vertices))
	for newIdx, oldIdx := range order {
		sorted[newIdx] = vertices[oldIdx]
		remap[oldIdx] = int32(newIdx)
	}

	return sorted, remap
}

// Flatten converts a mesh into its vertex and face token sequences.
//
// Vertices are first sorted by (Z, Y, X) so token order is canonical. Each
// vertex contributes three consecutive tokens (x, y, z, each shifted by
// CoordinateOffset) and the sequence ends with StopToken, giving a length
// of 3*V + 1. Face indices are remapped to the sorted order, shifted by
// FaceIndexOffset, separated by NewFaceToken and terminated by StopToken.
func Flatten(m Mesh, opts FlattenOptions) (verticesFlat, facesFlat []int32, err error) {
	if opts.MaxNumVertices > 0 && len(m.Vertices) > opts.MaxNumVertices {
		return nil, nil, &errtypes.SequenceLengthExceeded{Length: len(m.Vertices), Max: opts.MaxNumVertices}
	}

	for _, face := range m.Faces {
		for _, idx := range face {
			if idx < 0 || int(idx) >= len(m.Vertices) {
				return nil, nil, &errtypes.InvalidTopology{Index: idx, NumVertices: len(m.Vertices)}
			}
		}
	}

	sorted, remap := SortVertices(m.Vertices)

	verticesFlat = make([]int32, 0, 3*len(sorted)+1)
	for _, v := range sorted {
		verticesFlat = append(verticesFlat, v[0]+CoordinateOffset, v[1]+CoordinateOffset, v[2]+CoordinateOffset)
	}
	verticesFlat = append(verticesFlat, StopToken)

	facesFlat = make([]int32, 0)
	for i, face := range m.Faces {
		if i > 0 {
			facesFlat = append(facesFlat, NewFaceToken)
		}
		for _, idx := range face {
			facesFlat = append(facesFlat, remap[idx]+FaceIndexOffset)
		}
	}
	facesFlat = append(facesFlat, StopToken)

	if opts.MaxSeqLength > 0 && len(facesFlat) > opts.MaxSeqLength {
		return nil, nil, &errtypes.SequenceLengthExceeded{Length: len(facesFlat), Max: opts.MaxSeqLength}
	}

	return verticesFlat, facesFlat, nil
}

// UnflattenFaces is the inverse of the face half of Flatten. Tokens after
// the stop sentinel (padding) are ignored and empty faces are dropped. A
// token that un-shifts to an index outside [0, numVertices) returns
// errtypes.InvalidTopology.
func UnflattenFaces(facesFlat []int32, numVertices int) ([][]int32, error) {
	faces := make([][]int32, 0)
	current := make([]int32, 0)

	flush := func() {
		if len(current) > 0 {
			faces = append(faces, current)
			current = make([]int32, 0)
		}
	}

	for _, tok := range facesFlat {
		switch {
		case tok == StopToken:
			flush()
			return faces, nil
		case tok == NewFaceToken:
			flush()
		default:
			idx := tok - FaceIndexOffset
			if idx < 0 || int(idx) >= numVertices {
				return nil, &errtypes.InvalidTopology{Index: idx, NumVertices: numVertices}
			}
			current = append(current, idx)
		}
	}

	flush()
	return faces, nil
}

// UnflattenVertices decodes a flattened vertex sequence back into [V, 3]
// coordinates, stopping at the stop sentinel. Trailing tokens that do not
// form a complete triple are discarded.
func UnflattenVertices(verticesFlat []int32) [][3]int32 {
	values := make([]int32, 0, len(verticesFlat))
	for _, tok := range verticesFlat {
		if tok == StopToken {
			break
		}
		values = append(values, tok-CoordinateOffset)
	}

	vertices := make([][3]int32, 0, len(values)/3)
	for i := 0; i+2 < len(values); i += 3 {
		vertices = append(vertices, [3]int32{values[i], values[i+1], values[i+2]})
	}
	return vertices
}
