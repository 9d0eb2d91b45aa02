package imageproc

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestComposite(t *testing.T) {
	// fully transparent pixels come back white
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})

	out := Composite(img)
	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, []uint32{255, 0, 0}, []uint32{r >> 8, g >> 8, b >> 8})

	r, g, b, _ = out.At(1, 1).RGBA()
	assert.Equal(t, []uint32{255, 255, 255}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestResize(t *testing.T) {
	img := solid(color.White, 10, 20)
	out := Resize(img, image.Point{4, 8}, ResizeBilinear)
	assert.Equal(t, image.Rect(0, 0, 4, 8), out.Bounds())
}

func TestResizeUnknownMethod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Resize(solid(color.White, 2, 2), image.Point{1, 1}, 99)
}

func TestNormalize(t *testing.T) {
	img := solid(color.White, 2, 2)
	got := Normalize(img, ImageNetDefaultMean, ImageNetDefaultSTD)
	require.Equal(t, []int{1, 3, 2, 2}, got.Shape())

	// white maps to (1 - mean) / std per channel
	f := got.Floats()
	want := make([]float32, 12)
	for c := 0; c < 3; c++ {
		v := (1 - ImageNetDefaultMean[c]) / ImageNetDefaultSTD[c]
		for i := 0; i < 4; i++ {
			want[c*4+i] = v
		}
	}
	if diff := cmp.Diff(want, f, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Error(diff)
	}
}

func TestNormalizeGrayReplicates(t *testing.T) {
	img := solid(color.Gray{Y: 128}, 2, 2)
	got := NormalizeGray(img, ImageNetDefaultMean, ImageNetDefaultSTD)
	require.Equal(t, []int{1, 3, 2, 2}, got.Shape())

	f := got.Floats()
	v := float32(128) / 255
	for c := 0; c < 3; c++ {
		want := (v - ImageNetDefaultMean[c]) / ImageNetDefaultSTD[c]
		if diff := cmp.Diff(want, f[c*4], cmpopts.EquateApprox(0, 1e-5)); diff != "" {
			t.Errorf("channel %d: %s", c, diff)
		}
	}
}

func TestPrepareShapes(t *testing.T) {
	rgb := Prepare(solid(color.White, 50, 30), 64)
	assert.Equal(t, []int{1, 3, 64, 64}, rgb.Shape())

	depth := PrepareDepth(solid(color.Gray{Y: 10}, 50, 30), 64)
	assert.Equal(t, []int{1, 3, 64, 64}, depth.Shape())
}
