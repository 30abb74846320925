// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package batch

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq/value"
)

// DefaultGranularity is the batch size used by partitioners that do
// not configure their own.
const DefaultGranularity = 10

// A Partitioner splits the vector arguments of a macro task into
// batches. The zero Partitioner performs 1-D partitioning with the
// default granularity.
//
// In 1-D partitioning, every vector argument is sliced by the same
// contiguous chunk of at most Granularity positions; the chunks tile
// the vector length, with any remainder folded into the final chunk
// so that no undersized trailing batch is produced. In 2-D
// partitioning the argument tuple must hold exactly two vector
// arguments; batches are the rectangular blocks of the Cartesian
// product of both chunkings, and a batch's output range is its row
// range.
type Partitioner struct {
	// Granularity is the target batch size. Zero means
	// DefaultGranularity.
	Granularity int
	// Dimension selects 1-D or 2-D partitioning. Zero means 1-D.
	Dimension int
}

// Partition splits the provided arguments into batches. All vector
// arguments of a 1-D partition must have equal length. Configurations
// that the argument tuple cannot satisfy are invalid errors.
func (p Partitioner) Partition(args value.Tuple) ([]Batch, error) {
	g := p.Granularity
	if g == 0 {
		g = DefaultGranularity
	}
	if g < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: invalid granularity %d", g))
	}
	dim := p.Dimension
	if dim == 0 {
		dim = 1
	}
	vecs := args.Vecs()
	switch dim {
	case 1:
		if len(vecs) == 0 {
			return nil, errors.E(errors.Invalid, "1-d partition: no vector arguments")
		}
		n := args[vecs[0]].Len()
		for _, idx := range vecs[1:] {
			if args[idx].Len() != n {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("1-d partition: vector length mismatch: %d != %d", args[idx].Len(), n))
			}
		}
		chunks := chunk(n, g)
		batches := make([]Batch, len(chunks))
		for i, r := range chunks {
			in := make([]Range, len(vecs))
			for j := range in {
				in[j] = r
			}
			batches[i] = Batch{Inputs: in, Output: r}
		}
		return batches, nil
	case 2:
		if len(vecs) != 2 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("2-d partition: %d vector arguments, need 2", len(vecs)))
		}
		rows := chunk(args[vecs[0]].Len(), g)
		cols := chunk(args[vecs[1]].Len(), g)
		batches := make([]Batch, 0, len(rows)*len(cols))
		for _, r := range rows {
			for _, c := range cols {
				batches = append(batches, Batch{Inputs: []Range{r, c}, Output: r})
			}
		}
		return batches, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: unsupported dimension %d", dim))
	}
}

// chunk splits [0, n) into contiguous ranges of size g; the final
// range absorbs any remainder. An empty vector yields no chunks.
func chunk(n, g int) []Range {
	if n == 0 {
		return nil
	}
	k := n / g
	if k == 0 {
		k = 1
	}
	ranges := make([]Range, k)
	for i := 0; i < k; i++ {
		ranges[i] = Interval(i*g, (i+1)*g)
	}
	ranges[k-1].End = n
	return ranges
}
