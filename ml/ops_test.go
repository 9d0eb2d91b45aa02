package ml

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func TestAddMul(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b := FromSlice([]float32{5, 6, 7, 8}, 2, 2)
	if diff := cmp.Diff([]float32{6, 8, 10, 12}, a.Add(b).Floats()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]float32{5, 12, 21, 32}, a.Mul(b).Floats()); diff != "" {
		t.Error(diff)
	}
}

func TestAddShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(2, 2).Add(New(2, 3))
}

func TestScaleAddScalar(t *testing.T) {
	x := FromSlice([]float32{1, -2}, 2)
	if diff := cmp.Diff([]float32{2, -4}, x.Scale(2).Floats()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]float32{2, -1}, x.AddScalar(1).Floats()); diff != "" {
		t.Error(diff)
	}
}

func TestReLU(t *testing.T) {
	x := FromSlice([]float32{-1, 0, 2}, 3)
	if diff := cmp.Diff([]float32{0, 0, 2}, x.ReLU().Floats()); diff != "" {
		t.Error(diff)
	}
}

func TestSigmoid(t *testing.T) {
	x := FromSlice([]float32{0, 100, -100}, 3)
	got := x.Sigmoid().Floats()
	want := []float32{0.5, 1, 0}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Error(diff)
	}
}

func TestGELU(t *testing.T) {
	x := FromSlice([]float32{0, 10, -10}, 3)
	got := x.GELU().Floats()
	// exact GELU: 0 at 0, identity for large positive, 0 for large negative
	want := []float32{0, 10, 0}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Error(diff)
	}
}

func TestSoftmaxLastAxis(t *testing.T) {
	x := FromSlice([]float32{1, 1, 1, 1, 2, 3}, 2, 3)
	got := x.Softmax(1)
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			v := got.Floats()[r*3+c]
			if v < 0 || v > 1 {
				t.Fatalf("softmax value %f outside [0,1]", v)
			}
			sum += v
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d sums to %f", r, sum)
		}
	}
	// uniform row stays uniform
	if diff := cmp.Diff([]float32{1. / 3, 1. / 3, 1. / 3}, got.Floats()[:3], approx); diff != "" {
		t.Error(diff)
	}
}

func TestSoftmaxInnerAxis(t *testing.T) {
	// axis 1 of [1,2,2]: columns normalize independently
	x := FromSlice([]float32{0, 0, 0, 0}, 1, 2, 2)
	got := x.Softmax(1).Floats()
	if diff := cmp.Diff([]float32{0.5, 0.5, 0.5, 0.5}, got, approx); diff != "" {
		t.Error(diff)
	}
}

func TestSoftmaxStability(t *testing.T) {
	x := FromSlice([]float32{1000, 1001}, 1, 2)
	got := x.Softmax(1).Floats()
	for _, v := range got {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("softmax overflowed: %v", got)
		}
	}
}

func TestLayerNorm(t *testing.T) {
	x := FromSlice([]float32{1, 2, 3, 4}, 1, 4)
	w := FromSlice([]float32{1, 1, 1, 1}, 4)
	b := New(4)
	got := x.LayerNorm(w, b, 1e-6).Floats()
	var mean, varsum float32
	for _, v := range got {
		mean += v
	}
	mean /= 4
	for _, v := range got {
		varsum += (v - mean) * (v - mean)
	}
	if math.Abs(float64(mean)) > 1e-5 {
		t.Errorf("normalized mean %f", mean)
	}
	if math.Abs(float64(varsum/4-1)) > 1e-3 {
		t.Errorf("normalized variance %f", varsum/4)
	}
}

func TestBatchNorm(t *testing.T) {
	// identity stats leave the input unchanged up to eps
	x := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	one := FromSlice([]float32{1}, 1)
	zero := New(1)
	got := x.BatchNorm(one, zero, zero, one, 0).Floats()
	if diff := cmp.Diff(x.Floats(), got, approx); diff != "" {
		t.Error(diff)
	}
}
