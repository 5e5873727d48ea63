// Package ml provides the dense numeric substrate the mesh models are
// built on: a row-major float32 tensor with the operations a Transformer
// decoder needs. Operations are eager and allocate their results; none of
// them renormalizes logits destructively.
package ml

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pdevine/tensor"
)

type Tensor struct {
	shape []int
	data  []float32
}

type number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

func mul[T number](s ...T) T {
	p := T(1)
	for _, v := range s {
		p *= v
	}

	return p
}

// Zeros returns a zero-filled tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{shape: shape, data: make([]float32, mul(shape...))}
}

// FromFloats wraps data in a tensor of the given shape. The backing slice
// is not copied.
func FromFloats(data []float32, shape ...int) *Tensor {
	if len(data) != mul(shape...) {
		panic(fmt.Errorf("ml: %d elements cannot take shape %v", len(data), shape))
	}
	return &Tensor{shape: shape, data: data}
}

// FromInts converts integer tokens into a float tensor, used for building
// conditioning inputs from token sequences.
func FromInts(data []int32, shape ...int) *Tensor {
	fs := make([]float32, len(data))
	for i, v := range data {
		fs[i] = float32(v)
	}
	return FromFloats(fs, shape...)
}

func (t *Tensor) Dim(n int) int     { return t.shape[n] }
func (t *Tensor) Shape() []int      { return t.shape }
func (t *Tensor) Floats() []float32 { return t.data }

func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return FromFloats(data, t.shape...)
}

// Reshape returns a tensor sharing t's data with a new shape. A single -1
// dimension is inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	known := 1
	infer := -1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Errorf("ml: multiple inferred dimensions in %v", shape))
			}
			infer = i
		} else {
			known *= d
		}
	}
	if infer >= 0 {
		shape = append([]int(nil), shape...)
		shape[infer] = len(t.data) / known
	}
	if mul(shape...) != len(t.data) {
		panic(fmt.Errorf("ml: cannot reshape %v to %v", t.shape, shape))
	}
	return &Tensor{shape: shape, data: t.data}
}

// rows2d interprets t as a matrix: every dimension but the last collapses
// into rows.
func (t *Tensor) rows2d() (rows, cols int) {
	if len(t.shape) == 0 {
		return 1, 1
	}
	cols = t.shape[len(t.shape)-1]
	return len(t.data) / cols, cols
}

// Add returns t + t2. Shapes must match, except that a 1D t2 of size equal
// to t's last dimension broadcasts across rows.
func (t *Tensor) Add(t2 *Tensor) *Tensor {
	out := t.Clone()
	if len(t2.data) == len(t.data) {
		for i, v := range t2.data {
			out.data[i] += v
		}
		return out
	}

	rows, cols := t.rows2d()
	if len(t2.data) != cols {
		panic(fmt.Errorf("ml: cannot add %v and %v", t.shape, t2.shape))
	}
	for r := 0; r < rows; r++ {
		row := out.data[r*cols : (r+1)*cols]
		for i, v := range t2.data {
			row[i] += v
		}
	}
	return out
}

// Mul returns the elementwise product of t and t2.
func (t *Tensor) Mul(t2 *Tensor) *Tensor {
	if len(t2.data) != len(t.data) {
		panic(fmt.Errorf("ml: cannot multiply %v and %v", t.shape, t2.shape))
	}
	out := t.Clone()
	for i, v := range t2.data {
		out.data[i] *= v
	}
	return out
}

// Mulmat returns the matrix product t × t2 for 2D tensors [m, k] × [k, n].
func (t *Tensor) Mulmat(t2 *Tensor) *Tensor {
	if len(t.shape) != 2 || len(t2.shape) != 2 || t.shape[1] != t2.shape[0] {
		panic(fmt.Errorf("ml: cannot matmul %v and %v", t.shape, t2.shape))
	}

	a := tensor.New(tensor.WithShape(t.shape...), tensor.WithBacking(t.data))
	b := tensor.New(tensor.WithShape(t2.shape...), tensor.WithBacking(t2.data))
	c, err := tensor.MatMul(a, b)
	if err != nil {
		panic(fmt.Errorf("ml: matmul %v x %v: %w", t.shape, t2.shape, err))
	}

	return FromFloats(c.(*tensor.Dense).Data().([]float32), t.shape[0], t2.shape[1])
}

// Transpose returns the transpose of a 2D tensor.
func (t *Tensor) Transpose() *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Errorf("ml: cannot transpose %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := Zeros(cols, rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[c*rows+r] = t.data[r*cols+c]
		}
	}
	return out
}

// Scale returns t scaled by s.
func (t *Tensor) Scale(s float32) *Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// Softmax normalizes the last dimension into probabilities.
func (t *Tensor) Softmax() *Tensor {
	out := t.Clone()
	rows, cols := out.rows2d()
	for r := 0; r < rows; r++ {
		row := out.data[r*cols : (r+1)*cols]
		maxv := row[0]
		for _, v := range row[1:] {
			maxv = max(maxv, v)
		}
		var sum float32
		for i, v := range row {
			row[i] = math32.Exp(v - maxv)
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
	}
	return out
}

// LogSoftmax computes log-probabilities over the last dimension.
func (t *Tensor) LogSoftmax() *Tensor {
	out := t.Clone()
	rows, cols := out.rows2d()
	for r := 0; r < rows; r++ {
		row := out.data[r*cols : (r+1)*cols]
		maxv := row[0]
		for _, v := range row[1:] {
			maxv = max(maxv, v)
		}
		var sum float32
		for _, v := range row {
			sum += math32.Exp(v - maxv)
		}
		lse := maxv + math32.Log(sum)
		for i, v := range row {
			row[i] = v - lse
		}
	}
	return out
}

// LayerNorm normalizes the last dimension to zero mean and unit variance,
// then applies the learned weight and bias.
func (t *Tensor) LayerNorm(weight, bias *Tensor, eps float32) *Tensor {
	rows, cols := t.rows2d()
	if len(weight.data) != cols || (bias != nil && len(bias.data) != cols) {
		panic(fmt.Errorf("ml: layernorm weight %v does not match %v", weight.shape, t.shape))
	}

	out := t.Clone()
	for r := 0; r < rows; r++ {
		row := out.data[r*cols : (r+1)*cols]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(cols)
		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(cols)
		inv := 1 / math32.Sqrt(variance+eps)
		for i, v := range row {
			row[i] = (v - mean) * inv * weight.data[i]
			if bias != nil {
				row[i] += bias.data[i]
			}
		}
	}
	return out
}

// Tanh applies the elementwise hyperbolic tangent.
func (t *Tensor) Tanh() *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = math32.Tanh(v)
	}
	return out
}

// GELU applies the tanh approximation of the Gaussian error linear unit:
// 0.5x(1 + tanh(sqrt(2/pi)(x + 0.044715x^3))).
func (t *Tensor) GELU() *Tensor {
	inner := t.Mul(t).Mul(t).Scale(0.044715).Add(t).Scale(math32.Sqrt(2 / math32.Pi)).Tanh()
	out := t.Clone()
	for i, v := range inner.data {
		out.data[i] *= 0.5 * (1 + v)
	}
	return out
}

// Rows gathers rows of a 2D tensor by index.
func (t *Tensor) Rows(indices []int32) *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Errorf("ml: cannot gather rows of %v", t.shape))
	}
	cols := t.shape[1]
	out := Zeros(len(indices), cols)
	for i, idx := range indices {
		if idx < 0 || int(idx) >= t.shape[0] {
			panic(fmt.Errorf("ml: row %d out of range for %v", idx, t.shape))
		}
		copy(out.data[i*cols:(i+1)*cols], t.data[int(idx)*cols:int(idx+1)*cols])
	}
	return out
}

// Row returns the i-th row of a 2D tensor as a slice of t's backing data.
func (t *Tensor) Row(i int) []float32 {
	_, cols := t.rows2d()
	return t.data[i*cols : (i+1)*cols]
}

// Concat joins two 2D tensors along dim (0 = rows, 1 = columns).
func (t *Tensor) Concat(t2 *Tensor, dim int) *Tensor {
	if len(t.shape) != 2 || len(t2.shape) != 2 {
		panic(fmt.Errorf("ml: cannot concat %v and %v", t.shape, t2.shape))
	}

	switch dim {
	case 0:
		if t.shape[1] != t2.shape[1] {
			panic(fmt.Errorf("ml: cannot concat %v and %v on dim 0", t.shape, t2.shape))
		}
		out := Zeros(t.shape[0]+t2.shape[0], t.shape[1])
		copy(out.data, t.data)
		copy(out.data[len(t.data):], t2.data)
		return out
	case 1:
		if t.shape[0] != t2.shape[0] {
			panic(fmt.Errorf("ml: cannot concat %v and %v on dim 1", t.shape, t2.shape))
		}
		out := Zeros(t.shape[0], t.shape[1]+t2.shape[1])
		for r := 0; r < t.shape[0]; r++ {
			copy(out.data[r*out.shape[1]:], t.data[r*t.shape[1]:(r+1)*t.shape[1]])
			copy(out.data[r*out.shape[1]+t.shape[1]:], t2.data[r*t2.shape[1]:(r+1)*t2.shape[1]])
		}
		return out
	default:
		panic(fmt.Errorf("ml: unsupported concat dim %d", dim))
	}
}

// Cols copies columns [from, to) of a 2D tensor.
func (t *Tensor) Cols(from, to int) *Tensor {
	if len(t.shape) != 2 || from < 0 || to > t.shape[1] || from > to {
		panic(fmt.Errorf("ml: cannot slice columns [%d, %d) of %v", from, to, t.shape))
	}
	out := Zeros(t.shape[0], to-from)
	for r := 0; r < t.shape[0]; r++ {
		copy(out.data[r*(to-from):], t.data[r*t.shape[1]+from:r*t.shape[1]+to])
	}
	return out
}
