package salient

import (
	"math/rand"

	"salientnet/ml"
	"salientnet/ml/nn"
)

// GDELayer accumulates complement-gated detail from the configured
// intermediate stages into two resolution buckets per modality. The gate
// is 1 - sigmoid(upsampled coarse saliency): regions the coarse estimate
// is already confident about are suppressed.
type GDELayer struct {
	ProjHigh *nn.Conv2D `sal:"proj_high"`
	ProjMed  *nn.Conv2D `sal:"proj_med"`
	ProjTok  *nn.Conv2D `sal:"proj_tokens"`

	UpHigh   *nn.ConvTranspose2D `sal:"up_high"`
	UpMed    *nn.ConvTranspose2D `sal:"up_med"`
	UpTokMed *nn.ConvTranspose2D `sal:"up_tokens_med"`

	highStages []int
	medStages  []int
}

func newGDELayer(r *rand.Rand, cfg Config) *GDELayer {
	g := &GDELayer{
		ProjHigh: nn.NewConv2D(r, cfg.groupWidth(3), 1, 1, true),
		ProjMed:  nn.NewConv2D(r, cfg.groupWidth(2), 1, 1, true),
		ProjTok:  nn.NewConv2D(r, cfg.EmbedDim, 1, 1, true),
		UpHigh:   nn.NewConvTranspose2D(r, 1, 1, 4, true),
		UpMed:    nn.NewConvTranspose2D(r, 1, 1, 4, true),
		UpTokMed: nn.NewConvTranspose2D(r, cfg.EmbedDim, 1, 4, true),
	}
	for _, s := range cfg.GDEStages {
		if cfg.stageGroup(s) == 3 {
			g.highStages = append(g.highStages, s)
		} else {
			g.medStages = append(g.medStages, s)
		}
	}
	return g
}

func complementGate(coarse *ml.Tensor) *ml.Tensor {
	return coarse.Sigmoid().Scale(-1).AddScalar(1)
}

func accumulate(acc, gate, part *ml.Tensor) *ml.Tensor {
	if acc == nil {
		return gate.Mul(part)
	}
	return acc.Add(gate.Mul(part))
}

// Forward returns the four accumulators (rgb/depth x high/medium). Their
// shapes derive from the projected stage features, never from fixed
// constants. A bucket with no configured stage comes back nil.
func (g *GDELayer) Forward(p *Pyramid, coarseRGB, coarseDepth *ml.Tensor, gridH, gridW int) (rgbHigh, rgbMed, depthHigh, depthMed *ml.Tensor) {
	for _, j := range g.highStages {
		rgbPart := g.ProjHigh.Forward(p.Conv[j], 1, 1, 0, 0)
		depthPart := g.ProjTok.Forward(tokensToGrid(p.Tokens[j], gridH, gridW), 1, 1, 0, 0)

		// coarse (input/32) -> stage grid (input/16)
		upRGB := g.UpHigh.Forward(coarseRGB, 2, 1, 0, 1)
		upDepth := g.UpHigh.Forward(coarseDepth, 2, 1, 0, 1)

		rgbHigh = accumulate(rgbHigh, complementGate(upRGB), rgbPart)
		depthHigh = accumulate(depthHigh, complementGate(upDepth), depthPart)
	}

	for _, j := range g.medStages {
		rgbPart := g.ProjMed.Forward(p.Conv[j], 1, 1, 0, 0)
		depthPart := g.UpTokMed.Forward(tokensToGrid(p.Tokens[j], gridH, gridW), 2, 1, 0, 1)

		// coarse (input/32) -> stage grid (input/8)
		upRGB := g.UpMed.Forward(coarseRGB, 4, 0, 0, 1)
		upDepth := g.UpMed.Forward(coarseDepth, 4, 0, 0, 1)

		rgbMed = accumulate(rgbMed, complementGate(upRGB), rgbPart)
		depthMed = accumulate(depthMed, complementGate(upDepth), depthPart)
	}

	return rgbHigh, rgbMed, depthHigh, depthMed
}
