package salient

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salientnet/ml"
	"salientnet/weights"
)

// testConfig is a narrow six-stage network that keeps the forward pass
// cheap while exercising every component at full input resolution.
func testConfig() Config {
	return Config{
		PatchSize:    16,
		InChannels:   3,
		BaseChannel:  8,
		ChannelRatio: 2,
		EmbedDim:     16,
		Depth:        6,
		NumHeads:     2,
		MLPRatio:     4,
		QKVBias:      true,
		LDEStage:     2,
		GDEStages:    []int{5, 4},
		Seed:         42,
	}
}

func testInputs(seed int64, batch, size int) (*ml.Tensor, *ml.Tensor) {
	r := rand.New(rand.NewSource(seed))
	return randTensor(r, batch, 3, size, size), randTensor(r, batch, 3, size, size)
}

func TestForwardShapes(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	rgb, depth := testInputs(0, 1, 288)
	out, err := m.Forward(rgb, depth)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 288, 288}, out.Final.Shape())
	assert.Equal(t, []int{1, 1, 72, 72}, out.Low.Shape())
	assert.Equal(t, []int{1, 1, 36, 36}, out.Medium.Shape())
	assert.Equal(t, []int{1, 1, 18, 18}, out.High.Shape())
	assert.Equal(t, []int{1, 1, 9, 9}, out.CoarseRGB.Shape())
	assert.Equal(t, []int{1, 1, 9, 9}, out.CoarseDepth.Shape())

	require.Len(t, out.Attention, 6)
	for i, a := range out.Attention {
		assert.Equal(t, []int{1, 325, 16}, a.Shape(), "stage %d", i+1)
	}

	for _, v := range out.Final.Floats() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatal("forward produced a non-finite value")
		}
	}
}

func TestForwardBatched(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	rgb, depth := testInputs(1, 2, 288)
	out, err := m.Forward(rgb, depth)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 288, 288}, out.Final.Shape())
	assert.Equal(t, []int{2, 1, 9, 9}, out.CoarseRGB.Shape())
}

func TestForwardDeterministic(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	rgb, depth := testInputs(2, 1, 288)
	a, err := m.Forward(rgb, depth)
	require.NoError(t, err)
	b, err := m.Forward(rgb, depth)
	require.NoError(t, err)
	assert.Equal(t, a.Final.Floats(), b.Final.Floats())
}

func TestEncoderPyramidAligned(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	rgb, depth := testInputs(3, 1, 288)
	p := m.Encoder.Forward(rgb, depth)

	require.Len(t, p.Conv, cfg.Depth+1)
	require.Len(t, p.Tokens, cfg.Depth+1)
	require.Len(t, p.Cache, cfg.Depth+1)

	// stem, then three groups of doubling width and halving resolution,
	// with the terminal stage fused down once more
	wantConv := [][]int{
		{1, 64, 72, 72},
		{1, 16, 72, 72},
		{1, 16, 72, 72},
		{1, 32, 36, 36},
		{1, 32, 36, 36},
		{1, 64, 18, 18},
		{1, 64, 9, 9},
	}
	for i, want := range wantConv {
		assert.Equal(t, want, p.Conv[i].Shape(), "conv entry %d", i)
		assert.Equal(t, []int{1, 325, 16}, p.Tokens[i].Shape(), "token entry %d", i)
	}

	assert.Nil(t, p.Cache[0].Attn)
	for i := 1; i <= cfg.Depth; i++ {
		require.NotNil(t, p.Cache[i].Attn, "cache entry %d", i)
	}
}

func TestComplementGateRange(t *testing.T) {
	coarse := ml.FromSlice([]float32{-10, -1, 0, 1, 10}, 1, 1, 1, 5)
	gate := complementGate(coarse)
	f := gate.Floats()
	for i, v := range f {
		if v < 0 || v > 1 {
			t.Fatalf("gate[%d] = %f outside [0,1]", i, v)
		}
	}
	// strong positive coarse response suppresses, strong negative passes
	if f[4] > 0.01 || f[0] < 0.99 {
		t.Errorf("gate not complementary: %v", f)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"depth not multiple of three", func(c *Config) { c.Depth = 7 }},
		{"patch size not multiple of 16", func(c *Config) { c.PatchSize = 8 }},
		{"patch size misaligned with deep group", func(c *Config) { c.PatchSize = 32 }},
		{"heads do not divide embed dim", func(c *Config) { c.NumHeads = 3 }},
		{"lde stage outside first group", func(c *Config) { c.LDEStage = 3 }},
		{"gde stage in first group", func(c *Config) { c.GDEStages = []int{1, 5} }},
		{"gde stage terminal", func(c *Config) { c.GDEStages = []int{6, 4} }},
		{"gde misses medium group", func(c *Config) { c.GDEStages = []int{5} }},
		{"gde misses high group", func(c *Config) { c.GDEStages = []int{4} }},
		{"gde stage out of range", func(c *Config) { c.GDEStages = []int{5, 99} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().validate())
}

func TestInputValidation(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	rgb, depth := testInputs(4, 1, 288)

	_, err = m.Forward(nil, depth)
	assert.Error(t, err)

	_, err = m.Forward(rgb.Reshape(3, 288, 288), depth)
	assert.Error(t, err)

	_, err = m.Forward(rgb, ml.New(2, 3, 288, 288))
	assert.Error(t, err, "batch mismatch")

	_, err = m.Forward(ml.New(1, 1, 288, 288), ml.New(1, 1, 288, 288))
	assert.Error(t, err, "channel mismatch")

	_, err = m.Forward(ml.New(1, 3, 300, 300), ml.New(1, 3, 300, 300))
	assert.Error(t, err, "not divisible by stride")

	// divisible by 32 but off the local-detail grid
	_, err = m.Forward(ml.New(1, 3, 256, 256), ml.New(1, 3, 256, 256))
	assert.Error(t, err)
}

func TestParameterNames(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	params := m.Parameters()
	for _, name := range []string{
		"encoder.stem.conv.weight",
		"encoder.cls_token",
		"encoder.stages.0.trans.attn.qkv.weight",
		"encoder.stages.0.cnn.bn1.running_mean",
		"lde.conv_c.weight",
		"coarse.conv_rgb.bias",
		"gde.proj_high.weight",
		"decoder.up2.weight",
	} {
		assert.Contains(t, params, name)
	}
}

func TestLoadWeightsPartial(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	set := weights.Set{
		"encoder.cls_token": ml.New(1, 1, 16),
		"not.a.parameter":   ml.New(3),
	}
	matched, err := m.LoadWeights(set)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, make([]float32, 16), m.Encoder.ClsToken.Floats())

	_, err = m.LoadWeights(weights.Set{"encoder.cls_token": ml.New(1, 1, 8)})
	assert.Error(t, err)
}

func TestWeightRoundTripForward(t *testing.T) {
	cfg := testConfig()
	src, err := New(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, weights.Save(&buf, src.Parameters()))
	set, err := weights.Load(&buf)
	require.NoError(t, err)

	cfg.Seed = 7
	dst, err := New(cfg)
	require.NoError(t, err)
	matched, err := dst.LoadWeights(set)
	require.NoError(t, err)
	assert.Equal(t, len(set), matched)

	rgb, depth := testInputs(5, 1, 288)
	want, err := src.Forward(rgb, depth)
	require.NoError(t, err)
	got, err := dst.Forward(rgb, depth)
	require.NoError(t, err)
	assert.Equal(t, want.Final.Floats(), got.Final.Floats())
}
