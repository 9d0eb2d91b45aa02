package salient

import (
	"math/rand"

	"github.com/chewxy/math32"

	"salientnet/ml"
	"salientnet/ml/nn"
)

// AttentionCache keeps the per-stage self-attention arrays for reuse by
// downstream components. Query/Key/Value are [batch, heads, tokens,
// headDim]; Attn is the projected attention output [batch, tokens, dim].
type AttentionCache struct {
	Query *ml.Tensor
	Key   *ml.Tensor
	Value *ml.Tensor
	Attn  *ml.Tensor
}

// Pyramid is the aligned per-stage output of the encoder: entry 0 is the
// stem (feature map, initial token sequence), entries 1..Depth are stage
// outputs. Conv and Tokens always have equal length; Cache entry 0 is
// zero-valued since the stem runs no attention.
type Pyramid struct {
	Conv   []*ml.Tensor
	Tokens []*ml.Tensor
	Cache  []AttentionCache
}

type MLP struct {
	FC1 *nn.Linear `sal:"fc1"`
	FC2 *nn.Linear `sal:"fc2"`
}

func newMLP(r *rand.Rand, dim, hidden int) *MLP {
	return &MLP{FC1: nn.NewLinear(r, dim, hidden, true), FC2: nn.NewLinear(r, hidden, dim, true)}
}

func (m *MLP) Forward(x *ml.Tensor) *ml.Tensor {
	return m.FC2.Forward(m.FC1.Forward(x).GELU())
}

// Attention is multi-head self-attention over a token sequence.
type Attention struct {
	QKV  *nn.Linear `sal:"qkv"`
	Proj *nn.Linear `sal:"proj"`

	numHeads int
	scale    float32
}

func newAttention(r *rand.Rand, dim, heads int, qkvBias bool) *Attention {
	return &Attention{
		QKV:      nn.NewLinear(r, dim, 3*dim, qkvBias),
		Proj:     nn.NewLinear(r, dim, dim, true),
		numHeads: heads,
		scale:    1 / math32.Sqrt(float32(dim/heads)),
	}
}

func (a *Attention) Forward(x *ml.Tensor) (*ml.Tensor, AttentionCache) {
	b, n, c := x.Dim(0), x.Dim(1), x.Dim(2)
	hd := c / a.numHeads

	qkv := a.QKV.Forward(x).Reshape(b, n, 3, a.numHeads, hd).Permute(2, 0, 3, 1, 4)
	q := qkv.Narrow(0, 0, 1).Reshape(b, a.numHeads, n, hd)
	k := qkv.Narrow(0, 1, 1).Reshape(b, a.numHeads, n, hd)
	v := qkv.Narrow(0, 2, 1).Reshape(b, a.numHeads, n, hd)

	scores := ml.Matmul(q, k.Transpose(2, 3)).Scale(a.scale).Softmax(3)
	out := ml.Matmul(scores, v).Permute(0, 2, 1, 3).Reshape(b, n, c)
	out = a.Proj.Forward(out)

	return out, AttentionCache{Query: q, Key: k, Value: v, Attn: out}
}

// Block is a standard pre-norm transformer block.
type Block struct {
	Norm1 *nn.LayerNorm `sal:"norm1"`
	Attn  *Attention    `sal:"attn"`
	Norm2 *nn.LayerNorm `sal:"norm2"`
	MLP   *MLP          `sal:"mlp"`
}

func newBlock(r *rand.Rand, dim, heads, mlpRatio int, qkvBias bool) *Block {
	return &Block{
		Norm1: nn.NewLayerNorm(dim),
		Attn:  newAttention(r, dim, heads, qkvBias),
		Norm2: nn.NewLayerNorm(dim),
		MLP:   newMLP(r, dim, dim*mlpRatio),
	}
}

func (blk *Block) Forward(x *ml.Tensor) (*ml.Tensor, AttentionCache) {
	attnOut, cache := blk.Attn.Forward(blk.Norm1.Forward(x, lnEps))
	x = x.Add(attnOut)
	x = x.Add(blk.MLP.Forward(blk.Norm2.Forward(x, lnEps)))
	return x, cache
}

// ConvBlock is the residual bottleneck (1x1 reduce, 3x3 spatial, 1x1
// expand). The one type covers all stage variants: plain, stride-2
// downsampling with a projected shortcut, and the terminal fusion block.
type ConvBlock struct {
	Conv1 *nn.Conv2D      `sal:"conv1"`
	BN1   *nn.BatchNorm2D `sal:"bn1"`
	Conv2 *nn.Conv2D      `sal:"conv2"`
	BN2   *nn.BatchNorm2D `sal:"bn2"`
	Conv3 *nn.Conv2D      `sal:"conv3"`
	BN3   *nn.BatchNorm2D `sal:"bn3"`

	ResidualConv *nn.Conv2D      `sal:"residual_conv"`
	ResidualBN   *nn.BatchNorm2D `sal:"residual_bn"`

	stride int
}

func newConvBlock(r *rand.Rand, in, out, stride int, resConv bool) *ConvBlock {
	med := out / 4
	b := &ConvBlock{
		Conv1:  nn.NewConv2D(r, in, med, 1, false),
		BN1:    nn.NewBatchNorm2D(med),
		Conv2:  nn.NewConv2D(r, med, med, 3, false),
		BN2:    nn.NewBatchNorm2D(med),
		Conv3:  nn.NewConv2D(r, med, out, 1, false),
		BN3:    nn.NewBatchNorm2D(out),
		stride: stride,
	}
	if resConv {
		b.ResidualConv = nn.NewConv2D(r, in, out, 1, false)
		b.ResidualBN = nn.NewBatchNorm2D(out)
	}
	return b
}

// Forward transforms x, optionally merging a token-derived map xt into the
// reduced-width path. It returns the full-width output and the
// reduced-width intermediate used for cross-projection.
func (b *ConvBlock) Forward(x, xt *ml.Tensor) (out, mid *ml.Tensor) {
	residual := x

	h := b.BN1.Forward(b.Conv1.Forward(x, 1, 1, 0, 0), bnEps).ReLU()
	if xt != nil {
		h = h.Add(xt)
	}
	mid = b.BN2.Forward(b.Conv2.Forward(h, b.stride, b.stride, 1, 1), bnEps).ReLU()
	h = b.BN3.Forward(b.Conv3.Forward(mid, 1, 1, 0, 0), bnEps)

	if b.ResidualConv != nil {
		residual = b.ResidualBN.Forward(b.ResidualConv.Forward(residual, b.stride, b.stride, 0, 0), bnEps)
	}
	out = h.Add(residual).ReLU()
	return out, mid
}

// FCUDown projects a feature map into the token sequence: 1x1 projection
// to the embed width, pooling to the token grid, then norm/activation with
// the aggregate token prepended.
type FCUDown struct {
	Project *nn.Conv2D    `sal:"project"`
	Norm    *nn.LayerNorm `sal:"norm"`

	dwStride int
}

func newFCUDown(r *rand.Rand, in, embed, dwStride int) *FCUDown {
	return &FCUDown{
		Project:  nn.NewConv2D(r, in, embed, 1, true),
		Norm:     nn.NewLayerNorm(embed),
		dwStride: dwStride,
	}
}

func (f *FCUDown) Forward(x, tokens *ml.Tensor) *ml.Tensor {
	h := f.Project.Forward(x, 1, 1, 0, 0)
	if f.dwStride > 1 {
		h = ml.AvgPool2D(h, f.dwStride, f.dwStride)
	}
	b, c := h.Dim(0), h.Dim(1)
	seq := h.Reshape(b, c, h.Dim(2)*h.Dim(3)).Permute(0, 2, 1)
	seq = f.Norm.Forward(seq, lnEps).GELU()
	return tokens.Narrow(1, 0, 1).Concat(seq, 1)
}

// FCUUp projects the token sequence (aggregate token dropped) back to a
// feature map at the conv branch's resolution.
type FCUUp struct {
	Project *nn.Conv2D      `sal:"project"`
	BN      *nn.BatchNorm2D `sal:"bn"`

	upStride int
}

func newFCUUp(r *rand.Rand, embed, out, upStride int) *FCUUp {
	return &FCUUp{
		Project:  nn.NewConv2D(r, embed, out, 1, true),
		BN:       nn.NewBatchNorm2D(out),
		upStride: upStride,
	}
}

func (f *FCUUp) Forward(tokens *ml.Tensor, gridH, gridW int) *ml.Tensor {
	h := f.Project.Forward(tokensToGrid(tokens, gridH, gridW), 1, 1, 0, 0)
	h = f.BN.Forward(h, bnEps).ReLU()
	return ml.UpsampleNearest(h, gridH*f.upStride, gridW*f.upStride)
}

// tokensToGrid drops the aggregate token and reinterprets the remaining
// sequence as a spatial grid. The element count is preserved; the grid
// side comes from the stage's known downsampling factor.
func tokensToGrid(tokens *ml.Tensor, gridH, gridW int) *ml.Tensor {
	b, n, e := tokens.Dim(0), tokens.Dim(1), tokens.Dim(2)
	patches := tokens.Narrow(1, 1, n-1)
	return patches.Permute(0, 2, 1).Reshape(b, e, gridH, gridW)
}

// expandToken broadcasts the learned [1, 1, dim] aggregate token across a
// batch.
func expandToken(token *ml.Tensor, batch int) *ml.Tensor {
	dim := token.Dim(2)
	out := ml.New(batch, 1, dim)
	src := token.Floats()
	dst := out.Floats()
	for b := 0; b < batch; b++ {
		copy(dst[b*dim:(b+1)*dim], src)
	}
	return out
}

// ConvTransBlock is one encoder stage: the conv branch runs a residual
// bottleneck, its reduced-width intermediate is squeezed into the token
// sequence, the transformer block updates the tokens, and the updated
// tokens are expanded back and fused into the conv branch.
type ConvTransBlock struct {
	CNN     *ConvBlock   `sal:"cnn"`
	Fusion  *ConvBlock   `sal:"fusion"`
	Med     []*ConvBlock `sal:"med"`
	Squeeze *FCUDown     `sal:"squeeze"`
	Expand  *FCUUp       `sal:"expand"`
	Trans   *Block       `sal:"trans"`

	dwStride int
}

func newConvTransBlock(r *rand.Rand, cfg Config, in, out, stride int, resConv, lastFusion bool, dwStride int) *ConvTransBlock {
	med := out / 4
	b := &ConvTransBlock{
		CNN:      newConvBlock(r, in, out, stride, resConv),
		Squeeze:  newFCUDown(r, med, cfg.EmbedDim, dwStride),
		Expand:   newFCUUp(r, cfg.EmbedDim, med, dwStride),
		Trans:    newBlock(r, cfg.EmbedDim, cfg.NumHeads, cfg.MLPRatio, cfg.QKVBias),
		dwStride: dwStride,
	}
	if lastFusion {
		b.Fusion = newConvBlock(r, out, out, 2, true)
	} else {
		b.Fusion = newConvBlock(r, out, out, 1, false)
	}
	for i := 0; i < cfg.NumMedBlocks; i++ {
		b.Med = append(b.Med, newConvBlock(r, out, out, 1, false))
	}
	return b
}

func (b *ConvTransBlock) Forward(x, tokens *ml.Tensor) (*ml.Tensor, *ml.Tensor, AttentionCache) {
	x, mid := b.CNN.Forward(x, nil)
	h, w := mid.Dim(2), mid.Dim(3)

	squeezed := b.Squeeze.Forward(mid, tokens)
	tokens, cache := b.Trans.Forward(squeezed.Add(tokens))

	for _, m := range b.Med {
		x, _ = m.Forward(x, nil)
	}

	expanded := b.Expand.Forward(tokens, h/b.dwStride, w/b.dwStride)
	x, _ = b.Fusion.Forward(x, expanded)

	return x, tokens, cache
}

// Stem is the shared convolutional downsampling applied to each modality
// independently: 7x7 stride-2 conv, norm, ReLU, 3x3 stride-2 max pool.
type Stem struct {
	Conv *nn.Conv2D      `sal:"conv"`
	BN   *nn.BatchNorm2D `sal:"bn"`
}

func newStem(r *rand.Rand, in int) *Stem {
	return &Stem{Conv: nn.NewConv2D(r, in, stemChannels, 7, false), BN: nn.NewBatchNorm2D(stemChannels)}
}

func (s *Stem) Forward(x *ml.Tensor) *ml.Tensor {
	h := s.BN.Forward(s.Conv.Forward(x, 2, 2, 3, 3), stemBNEps).ReLU()
	return ml.MaxPool2D(h, 3, 2, 1)
}

// Encoder is the dual-stream backbone. The RGB image drives the conv
// pyramid, the depth image seeds the token sequence; every stage exchanges
// information between the two.
type Encoder struct {
	Stem      *Stem             `sal:"stem"`
	Conv1     *ConvBlock        `sal:"conv_1"`
	PatchConv *nn.Conv2D        `sal:"patch_conv"`
	ClsToken  *ml.Tensor        `sal:"cls_token"`
	Trans1    *Block            `sal:"trans_1"`
	Stages    []*ConvTransBlock `sal:"stages"`

	cfg Config
}

func newEncoder(r *rand.Rand, cfg Config) *Encoder {
	e := &Encoder{
		Stem:      newStem(r, cfg.InChannels),
		Conv1:     newConvBlock(r, stemChannels, cfg.groupWidth(1), 1, true),
		PatchConv: nn.NewConv2D(r, stemChannels, cfg.EmbedDim, cfg.PatchSize/4, true),
		ClsToken:  nn.TruncNormal(r, 0.02, 1, 1, cfg.EmbedDim),
		Trans1:    newBlock(r, cfg.EmbedDim, cfg.NumHeads, cfg.MLPRatio, cfg.QKVBias),
		cfg:       cfg,
	}
	for i := 2; i <= cfg.Depth; i++ {
		g := cfg.stageGroup(i)
		out := cfg.groupWidth(g)
		in, stride, resConv := out, 1, false
		if g > 1 && i == cfg.groupStart(g) {
			in, stride, resConv = cfg.groupWidth(g-1), 2, true
		}
		e.Stages = append(e.Stages, newConvTransBlock(r, cfg, in, out, stride, resConv, i == cfg.Depth, cfg.dwStride(g)))
	}
	return e
}

// Forward runs both modality streams and returns the aligned stage
// pyramid: len(Conv) == len(Tokens) == 1 + Depth.
func (e *Encoder) Forward(rgb, depth *ml.Tensor) *Pyramid {
	p := &Pyramid{
		Conv:   make([]*ml.Tensor, 0, e.cfg.Depth+1),
		Tokens: make([]*ml.Tensor, 0, e.cfg.Depth+1),
		Cache:  make([]AttentionCache, 1, e.cfg.Depth+1),
	}

	xBase := e.Stem.Forward(rgb)
	yBase := e.Stem.Forward(depth)

	ps := e.cfg.PatchSize / 4
	patches := e.PatchConv.Forward(yBase, ps, ps, 0, 0)
	b, c := patches.Dim(0), patches.Dim(1)
	tokens := patches.Reshape(b, c, patches.Dim(2)*patches.Dim(3)).Permute(0, 2, 1)
	tokens = expandToken(e.ClsToken, b).Concat(tokens, 1)

	p.Conv = append(p.Conv, xBase)
	p.Tokens = append(p.Tokens, tokens)

	x, _ := e.Conv1.Forward(xBase, nil)
	tokens, cache := e.Trans1.Forward(tokens)
	p.Conv = append(p.Conv, x)
	p.Tokens = append(p.Tokens, tokens)
	p.Cache = append(p.Cache, cache)

	for _, stage := range e.Stages {
		x, tokens, cache = stage.Forward(x, tokens)
		p.Conv = append(p.Conv, x)
		p.Tokens = append(p.Tokens, tokens)
		p.Cache = append(p.Cache, cache)
	}

	return p
}
