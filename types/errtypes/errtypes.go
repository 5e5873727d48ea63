// Package errtypes contains custom error types
package errtypes

import (
	"fmt"
)

// InvalidTopology is returned when a face sequence references a vertex
// index outside the bounds of the vertex set it was paired with. It is a
// data-quality condition: callers discard the offending example and
// continue.
type InvalidTopology struct {
	Index       int32
	NumVertices int
}

func (e *InvalidTopology) Error() string {
	return fmt.Sprintf("invalid topology: face index %d out of range for %d vertices", e.Index, e.NumVertices)
}

// SequenceLengthExceeded is returned when flattening a mesh produces a
// token sequence longer than the configured cap. Fatal to the example,
// recoverable at batch level.
type SequenceLengthExceeded struct {
	Length int
	Max    int
}

func (e *SequenceLengthExceeded) Error() string {
	return fmt.Sprintf("sequence length %d exceeds maximum %d", e.Length, e.Max)
}
