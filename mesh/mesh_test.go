package mesh

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/meshforge/meshgen/types/errtypes"
)

// cubeMesh returns an 8-bit quantized cube: 8 vertices, 6 quad faces.
func cubeMesh() Mesh {
	return Mesh{
		Vertices: [][3]int32{
			{64, 64, 64},
			{192, 64, 64},
			{192, 192, 64},
			{64, 192, 64},
			{64, 64, 192},
			{192, 64, 192},
			{192, 192, 192},
			{64, 192, 192},
		},
		Faces: [][]int32{
			{0, 1, 2, 3},
			{4, 5, 6, 7},
			{0, 1, 5, 4},
			{2, 3, 7, 6},
			{0, 3, 7, 4},
			{1, 2, 6, 5},
		},
	}
}

func TestSortVertices(t *testing.T) {
	verts := [][3]int32{
		{5, 5, 9},
		{1, 2, 3},
		{9, 2, 3},
		{1, 9, 3},
	}

	sorted, remap := SortVertices(verts)

	want := [][3]int32{
		{1, 2, 3},
		{9, 2, 3},
		{1, 9, 3},
		{5, 5, 9},
	}
	if diff := cmp.Diff(want, sorted); diff != "" {
		t.Errorf("sorted vertices mismatch (-want +got):\n%s", diff)
	}

	wantRemap := []int32{3, 0, 1, 2}
	if diff := cmp.Diff(wantRemap, remap); diff != "" {
		t.Errorf("remap mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenVertexOrdering(t *testing.T) {
	verticesFlat, _, err := Flatten(cubeMesh(), FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(verticesFlat) != 3*8+1 {
		t.Errorf("vertex sequence length: want %d, got %d", 3*8+1, len(verticesFlat))
	}
	if verticesFlat[len(verticesFlat)-1] != StopToken {
		t.Errorf("vertex sequence does not end with stop token: %d", verticesFlat[len(verticesFlat)-1])
	}

	decoded := UnflattenVertices(verticesFlat)
	for i := 1; i < len(decoded); i++ {
		a, b := decoded[i-1], decoded[i]
		keyA := [3]int32{a[2], a[1], a[0]}
		keyB := [3]int32{b[2], b[1], b[0]}
		for axis := 0; axis < 3; axis++ {
			if keyA[axis] < keyB[axis] {
				break
			}
			if keyA[axis] > keyB[axis] {
				t.Fatalf("vertices %d and %d out of (Z,Y,X) order: %v, %v", i-1, i, a, b)
			}
		}
	}
}

func TestFaceRoundTrip(t *testing.T) {
	m := cubeMesh()
	_, facesFlat, err := Flatten(m, FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	faces, err := UnflattenFaces(facesFlat, len(m.Vertices))
	if err != nil {
		t.Fatal(err)
	}

	if len(faces) != 6 {
		t.Fatalf("face count: want 6, got %d", len(faces))
	}
	for i, face := range faces {
		if len(face) != 4 {
			t.Errorf("face %d: want 4 indices, got %d", i, len(face))
		}
		for _, idx := range face {
			if idx < 0 || int(idx) >= len(m.Vertices) {
				t.Errorf("face %d references invalid vertex %d", i, idx)
			}
		}
	}

	// The cube is symmetric under its own canonical reordering, so a
	// second flatten of the reconstructed faces must be identical.
	sorted, _ := SortVertices(m.Vertices)
	_, again, err := Flatten(Mesh{Vertices: sorted, Faces: faces}, FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(facesFlat, again); diff != "" {
		t.Errorf("face sequence not stable under round trip (-want +got):\n%s", diff)
	}
}

func TestFaceRoundTripExact(t *testing.T) {
	// Vertices already in canonical (Z,Y,X) order, so Flatten does not
	// re-index and the faces must round-trip verbatim.
	m := Mesh{
		Vertices: [][3]int32{
			{64, 64, 64},
			{192, 64, 64},
			{64, 192, 64},
			{192, 192, 64},
			{64, 64, 192},
			{192, 64, 192},
			{64, 192, 192},
			{192, 192, 192},
		},
		Faces: [][]int32{
			{0, 1, 3, 2},
			{4, 5, 7, 6},
			{0, 1, 5, 4},
			{2, 3, 7, 6},
			{0, 2, 6, 4},
			{1, 3, 7, 5},
		},
	}

	_, facesFlat, err := Flatten(m, FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnflattenFaces(facesFlat, len(m.Vertices))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m.Faces, got); diff != "" {
		t.Errorf("faces mismatch (-want +got):\n%s", diff)
	}
}

func TestUnflattenFaces(t *testing.T) {
	cases := []struct {
		name        string
		in          []int32
		numVertices int
		want        [][]int32
		wantErr     bool
	}{
		{
			name:        "TwoTriangles",
			in:          []int32{2, 3, 4, 1, 4, 5, 2, 0},
			numVertices: 4,
			want:        [][]int32{{0, 1, 2}, {2, 3, 0}},
		},
		{
			name:        "TrailingPadding",
			in:          []int32{2, 3, 4, 0, 0, 0},
			numVertices: 3,
			want:        [][]int32{{0, 1, 2}},
		},
		{
			name:        "MissingStop",
			in:          []int32{2, 3, 4},
			numVertices: 3,
			want:        [][]int32{{0, 1, 2}},
		},
		{
			name:        "EmptyFaceDropped",
			in:          []int32{2, 3, 4, 1, 1, 5, 6, 7, 0},
			numVertices: 6,
			want:        [][]int32{{0, 1, 2}, {3, 4, 5}},
		},
		{
			name:        "IndexOutOfRange",
			in:          []int32{2, 3, 9, 0},
			numVertices: 4,
			wantErr:     true,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnflattenFaces(tt.in, tt.numVertices)
			if tt.wantErr {
				var topoErr *errtypes.InvalidTopology
				if !errors.As(err, &topoErr) {
					t.Fatalf("want InvalidTopology, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("faces mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlattenErrors(t *testing.T) {
	m := cubeMesh()
	m.Faces = append(m.Faces, []int32{0, 1, 42})
	if _, _, err := Flatten(m, FlattenOptions{}); err == nil {
		t.Error("expected error for out-of-range face index")
	}

	var seqErr *errtypes.SequenceLengthExceeded
	if _, _, err := Flatten(cubeMesh(), FlattenOptions{MaxNumVertices: 4}); !errors.As(err, &seqErr) {
		t.Errorf("want SequenceLengthExceeded, got %v", err)
	}
	if _, _, err := Flatten(cubeMesh(), FlattenOptions{MaxSeqLength: 10}); !errors.As(err, &seqErr) {
		t.Errorf("want SequenceLengthExceeded, got %v", err)
	}
}
