package ml

import (
	"strconv"
	"strings"
)

type DumpOptions struct {
	// Items is the number of elements to print at the beginning and end of each dimension.
	Items int

	// Precision is the number of decimal places to print.
	Precision int
}

// Dump renders a tensor for logging and test failure messages.
func Dump(t *Tensor, opts ...DumpOptions) string {
	opt := DumpOptions{Items: 3, Precision: 4}
	if len(opts) > 0 {
		opt = opts[0]
	}

	rows, cols := t.rows2d()
	var sb strings.Builder
	sb.WriteString("[")
	for r := 0; r < rows; r++ {
		if rows > 2*opt.Items && r == opt.Items {
			sb.WriteString(" ...,")
			r = rows - opt.Items - 1
			continue
		}
		if r > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("[")
		for c := 0; c < cols; c++ {
			if cols > 2*opt.Items && c == opt.Items {
				sb.WriteString(", ...")
				c = cols - opt.Items - 1
				continue
			}
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.FormatFloat(float64(t.data[r*cols+c]), 'f', opt.Precision, 32))
		}
		sb.WriteString("]")
	}
	sb.WriteString("]")
	return sb.String()
}
