package salient

import (
	"fmt"
	"log/slog"
	"math/rand"

	"salientnet/ml"
	"salientnet/weights"
)

// Model is the full saliency network.
type Model struct {
	Encoder *Encoder     `sal:"encoder"`
	LDE     *LDELayer    `sal:"lde"`
	Coarse  *CoarseLayer `sal:"coarse"`
	GDE     *GDELayer    `sal:"gde"`
	Decoder *Decoder     `sal:"decoder"`

	cfg Config
}

// Output is the result of one forward pass. Final matches the input
// resolution; Low/Medium/High are the auxiliary supervision scales;
// CoarseRGB/CoarseDepth are the per-modality coarse estimates; Attention
// holds each stage's attention output, ordered by stage.
type Output struct {
	Final  *ml.Tensor
	Low    *ml.Tensor
	Medium *ml.Tensor
	High   *ml.Tensor

	CoarseRGB   *ml.Tensor
	CoarseDepth *ml.Tensor

	Attention []*ml.Tensor
}

// New builds a model with freshly initialized weights. Configuration
// problems are rejected here, not at the first forward call.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{
		Encoder: newEncoder(r, cfg),
		LDE:     newLDELayer(r, cfg.groupWidth(1), cfg.EmbedDim, cfg.dwStride(1)),
		Coarse:  newCoarseLayer(r, cfg.groupWidth(3), cfg.EmbedDim),
		GDE:     newGDELayer(r, cfg),
		Decoder: newDecoder(r, cfg.EmbedDim),
		cfg:     cfg,
	}

	var params, count int
	weights.Visit(m, func(string, *ml.Tensor) { count++ })
	weights.Visit(m, func(_ string, t *ml.Tensor) { params += t.Numel() })
	slog.Debug("initialized saliency model", "stages", cfg.Depth, "tensors", count, "parameters", params)

	return m, nil
}

// Config returns the model's configuration.
func (m *Model) Config() Config { return m.cfg }

// Forward predicts the saliency pyramid for a pair of co-registered
// modality images, each [batch, channels, H, W].
func (m *Model) Forward(rgb, depth *ml.Tensor) (*Output, error) {
	if err := m.checkInputs(rgb, depth); err != nil {
		return nil, err
	}
	h, w := rgb.Dim(2), rgb.Dim(3)
	gridH, gridW := h/m.cfg.PatchSize, w/m.cfg.PatchSize

	p := m.Encoder.Forward(rgb, depth)

	ldeRGB, ldeDepth := m.LDE.Forward(p.Conv[m.cfg.LDEStage], p.Tokens[m.cfg.LDEStage], p.Cache[m.cfg.LDEStage])
	coarseRGB, coarseDepth := m.Coarse.Forward(p.Conv[m.cfg.Depth], p.Tokens[m.cfg.Depth], gridH, gridW)
	rgbHigh, rgbMed, depthHigh, depthMed := m.GDE.Forward(p, coarseRGB, coarseDepth, gridH, gridW)
	final, low, med, high := m.Decoder.Forward(ldeRGB, ldeDepth, rgbHigh, rgbMed, depthHigh, depthMed, gridH, gridW)

	attn := make([]*ml.Tensor, 0, m.cfg.Depth)
	for _, c := range p.Cache[1:] {
		attn = append(attn, c.Attn)
	}

	return &Output{
		Final:       final,
		Low:         low,
		Medium:      med,
		High:        high,
		CoarseRGB:   coarseRGB,
		CoarseDepth: coarseDepth,
		Attention:   attn,
	}, nil
}

func (m *Model) checkInputs(rgb, depth *ml.Tensor) error {
	if rgb == nil || depth == nil {
		return fmt.Errorf("salient: both modality inputs are required")
	}
	if rgb.Dims() != 4 || depth.Dims() != 4 {
		return fmt.Errorf("salient: inputs must be [batch, channel, height, width], got %v and %v", rgb.Shape(), depth.Shape())
	}
	rs, ds := rgb.Shape(), depth.Shape()
	for i := range rs {
		if rs[i] != ds[i] {
			return fmt.Errorf("salient: modality shapes differ: %v vs %v", rs, ds)
		}
	}
	if rs[1] != m.cfg.InChannels {
		return fmt.Errorf("salient: expected %d input channels, got %d", m.cfg.InChannels, rs[1])
	}
	h, w := rs[2], rs[3]
	if h%32 != 0 || w%32 != 0 {
		return fmt.Errorf("salient: input %dx%d not divisible by the cumulative stride 32", h, w)
	}
	if h%m.cfg.PatchSize != 0 || w%m.cfg.PatchSize != 0 {
		return fmt.Errorf("salient: input %dx%d not divisible by patch size %d", h, w, m.cfg.PatchSize)
	}
	// the LDE RGB branch (3x3 max pool, then 7x7 and 5x5 convs with
	// padding 1) must land exactly on the token grid
	if ph, pw := h/4/3-6, w/4/3-6; ph != h/m.cfg.PatchSize || pw != w/m.cfg.PatchSize {
		return fmt.Errorf("salient: input %dx%d incompatible with local detail enhancement: pooled grid %dx%d, token grid %dx%d",
			h, w, ph, pw, h/m.cfg.PatchSize, w/m.cfg.PatchSize)
	}
	return nil
}

// Parameters returns the model's named parameter tensors. The tensors are
// shared with the model, so mutating them updates the model.
func (m *Model) Parameters() weights.Set {
	return weights.Collect(m)
}

// LoadWeights applies a partial-overlap load: entries whose names match a
// parameter overwrite it, unknown names are ignored, missing names keep
// their initialized values. It returns the number of parameters
// overwritten.
func (m *Model) LoadWeights(set weights.Set) (int, error) {
	matched, err := weights.LoadPartial(m, set)
	if err != nil {
		return 0, err
	}
	slog.Debug("loaded weights", "matched", matched, "supplied", len(set))
	return matched, nil
}
