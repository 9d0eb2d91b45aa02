package nn

import (
	"salientnet/ml"
)

type LayerNorm struct {
	Weight *ml.Tensor `sal:"weight"`
	Bias   *ml.Tensor `sal:"bias"`
}

func NewLayerNorm(dim int) *LayerNorm {
	return &LayerNorm{Weight: Ones(dim), Bias: ml.New(dim)}
}

func (m *LayerNorm) Forward(t *ml.Tensor, eps float32) *ml.Tensor {
	return t.LayerNorm(m.Weight, m.Bias, eps)
}

// BatchNorm2D normalizes NCHW activations with learned scale/shift and
// running statistics. The forward pass always uses the running stats; the
// training collaborator owns their updates.
type BatchNorm2D struct {
	Weight      *ml.Tensor `sal:"weight"`
	Bias        *ml.Tensor `sal:"bias"`
	RunningMean *ml.Tensor `sal:"running_mean"`
	RunningVar  *ml.Tensor `sal:"running_var"`
}

func NewBatchNorm2D(channels int) *BatchNorm2D {
	return &BatchNorm2D{
		Weight:      Ones(channels),
		Bias:        ml.New(channels),
		RunningMean: ml.New(channels),
		RunningVar:  Ones(channels),
	}
}

func (m *BatchNorm2D) Forward(t *ml.Tensor, eps float32) *ml.Tensor {
	return t.BatchNorm(m.Weight, m.Bias, m.RunningMean, m.RunningVar, eps)
}
