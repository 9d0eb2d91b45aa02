package salient

import (
	"math/rand"

	"salientnet/ml"
	"salientnet/ml/nn"
)

// Decoder composes the LDE and GDE branches into the saliency pyramid,
// doubling resolution with a shared learned upsampler until the input
// resolution is reached.
type Decoder struct {
	UpRGB   *nn.ConvTranspose2D `sal:"up_rgb"`
	UpDepth *nn.ConvTranspose2D `sal:"up_depth"`
	Up2     *nn.ConvTranspose2D `sal:"up2"`
}

func newDecoder(r *rand.Rand, embed int) *Decoder {
	return &Decoder{
		UpRGB:   nn.NewConvTranspose2D(r, 64, 1, 3, true),
		UpDepth: nn.NewConvTranspose2D(r, embed, 1, 3, true),
		Up2:     nn.NewConvTranspose2D(r, 1, 1, 4, true),
	}
}

func (d *Decoder) up2(t *ml.Tensor) *ml.Tensor {
	return d.Up2.Forward(t, 2, 1, 0, 1)
}

func (d *Decoder) Forward(ldeRGB, ldeDepth, rgbHigh, rgbMed, depthHigh, depthMed *ml.Tensor, gridH, gridW int) (final, low, med, high *ml.Tensor) {
	high = rgbHigh.Add(depthHigh)
	med = rgbMed.Add(depthMed)

	// both LDE branches are 4x upsampled (kernel 3, stride 4, output
	// padding 3) onto the low grid
	rgbLow := d.UpRGB.Forward(ldeRGB, 4, 1, 3, 1)
	depthLow := d.UpDepth.Forward(tokensToGrid(ldeDepth, gridH, gridW), 4, 1, 3, 1)
	low = rgbLow.Add(depthLow)

	final = d.up2(d.up2(low.Add(d.up2(med.Add(d.up2(high))))))
	return final, low, med, high
}
