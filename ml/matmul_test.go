package ml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMatmul2D(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, 3, 2)
	got := Matmul(a, b)
	want := []float32{58, 64, 139, 154}
	if diff := cmp.Diff([]int{2, 2}, got.Shape()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(want, got.Floats()); diff != "" {
		t.Error(diff)
	}
}

func TestMatmulBatched(t *testing.T) {
	// two identical batches give two identical products
	a := FromSlice([]float32{1, 0, 0, 1, 1, 0, 0, 1}, 2, 2, 2)
	b := FromSlice([]float32{5, 6, 7, 8, 5, 6, 7, 8}, 2, 2, 2)
	got := Matmul(a, b)
	if diff := cmp.Diff([]int{2, 2, 2}, got.Shape()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(b.Floats(), got.Floats()); diff != "" {
		t.Error(diff)
	}
}

func TestMatmulMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Matmul(New(2, 3), New(2, 2))
}
