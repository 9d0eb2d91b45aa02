package ml

import (
	"fmt"
	"runtime"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
	"golang.org/x/sync/errgroup"
)

// Matmul multiplies the last two axes of a and b, batching over any equal
// leading axes: [..., M, K] x [..., K, N] -> [..., M, N].
func Matmul(a, b *Tensor) *Tensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(as) != len(bs) {
		panic(fmt.Sprintf("ml: matmul rank mismatch %v vs %v", as, bs))
	}
	m, k := as[len(as)-2], as[len(as)-1]
	k2, n := bs[len(bs)-2], bs[len(bs)-1]
	if k != k2 {
		panic(fmt.Sprintf("ml: matmul inner dim mismatch %v vs %v", as, bs))
	}
	batch := 1
	for i := 0; i < len(as)-2; i++ {
		if as[i] != bs[i] {
			panic(fmt.Sprintf("ml: matmul batch dim mismatch %v vs %v", as, bs))
		}
		batch *= as[i]
	}

	outShape := make([]int, len(as))
	copy(outShape, as)
	outShape[len(as)-2] = m
	outShape[len(as)-1] = n
	out := make([]float32, batch*m*n)

	af := a.Floats()
	bf := b.Floats()

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < batch; i++ {
		i := i
		g.Go(func() error {
			am := matrixView(af[i*m*k:(i+1)*m*k], m, k)
			bm := matrixView(bf[i*k*n:(i+1)*k*n], k, n)
			om := matrixView(out[i*m*n:(i+1)*m*n], m, n)
			for r := 0; r < m; r++ {
				arow := am[r]
				orow := om[r]
				for p := 0; p < k; p++ {
					av := arow[p]
					if av == 0 {
						continue
					}
					brow := bm[p]
					for c := 0; c < n; c++ {
						orow[c] += av * brow[c]
					}
				}
			}
			return nil
		})
	}
	g.Wait()

	return FromSlice(out, outShape...)
}

// matrixView returns a row-major [][]float32 view over data without
// copying.
func matrixView(data []float32, rows, cols int) [][]float32 {
	d := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
	m, err := native.MatrixF32(d)
	if err != nil {
		panic(fmt.Sprintf("ml: matrix view %dx%d: %v", rows, cols, err))
	}
	return m
}
