package mesh

import (
	"golang.org/x/exp/rand"

	"github.com/meshforge/meshgen/types/errtypes"
)

// PadBatch right-pads sequences to the length of the longest one with
// StopToken and returns the padded batch alongside its loss masks: 1 for
// real content, 0 for padding.
func PadBatch(seqs [][]int32) ([][]int32, [][]float32) {
	var maxLen int
	for _, seq := range seqs {
		maxLen = max(maxLen, len(seq))
	}

	padded := make([][]int32, len(seqs))
	masks := make([][]float32, len(seqs))
	for i, seq := range seqs {
		padded[i] = make([]int32, maxLen)
		masks[i] = make([]float32, maxLen)
		copy(padded[i], seq)
		for j := range seq {
			masks[i][j] = 1
		}
	}

	return padded, masks
}

// MaskFromLengths builds prefix-of-ones masks for the given content
// lengths. A length greater than maxLen is an error.
func MaskFromLengths(lengths []int, maxLen int) ([][]float32, error) {
	masks := make([][]float32, len(lengths))
	for i, n := range lengths {
		if n > maxLen {
			return nil, &errtypes.SequenceLengthExceeded{Length: n, Max: maxLen}
		}
		masks[i] = make([]float32, maxLen)
		for j := 0; j < n; j++ {
			masks[i][j] = 1
		}
	}
	return masks, nil
}

// ValidMask reports whether a mask is a prefix of ones followed by zeros,
// which autoregressive training requires.
func ValidMask(mask []float32) bool {
	seenZero := false
	for _, v := range mask {
		switch v {
		case 1:
			if seenZero {
				return false
			}
		case 0:
			seenZero = true
		default:
			return false
		}
	}
	return true
}

// CycleFaces rotates each face's index list by a random offset. The
// polygon is unchanged; only the starting vertex moves. Used as training
// augmentation so the face model does not overfit to a canonical start.
func CycleFaces(faces [][]int32, rng *rand.Rand) [][]int32 {
	out := make([][]int32, len(faces))
	for i, face := range faces {
		out[i] = make([]int32, len(face))
		if len(face) == 0 {
			continue
		}
		shift := rng.Intn(len(face))
		for j := range face {
			out[i][j] = face[(j+shift)%len(face)]
		}
	}
	return out
}

// RandomShiftVertices applies a shared random translation per axis to
// quantized vertices, clamped so every coordinate stays inside
// [0, 2^quantizationBits). Augmentation used during vertex model training.
func RandomShiftVertices(vertices [][3]int32, quantizationBits int, maxShift int32, rng *rand.Rand) [][3]int32 {
	limit := int32(1)<<quantizationBits - 1

	var lo, hi [3]int32
	for axis := 0; axis < 3; axis++ {
		lo[axis] = -maxShift
		hi[axis] = maxShift
	}
	for _, v := range vertices {
		for axis := 0; axis < 3; axis++ {
			lo[axis] = max(lo[axis], -v[axis])
			hi[axis] = min(hi[axis], limit-v[axis])
		}
	}

	var shift [3]int32
	for axis := 0; axis < 3; axis++ {
		if hi[axis] < lo[axis] {
			continue
		}
		shift[axis] = lo[axis] + int32(rng.Intn(int(hi[axis]-lo[axis])+1))
	}

	out := make([][3]int32, len(vertices))
	for i, v := range vertices {
		out[i] = [3]int32{v[0] + shift[0], v[1] + shift[1], v[2] + shift[2]}
	}
	return out
}
