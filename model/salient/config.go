// Package salient implements a dual-stream RGB-D saliency network: a
// conv/transformer backbone evolving a feature pyramid and a token
// sequence in lockstep, local and global detail enhancement over the
// pyramid, and a coarse-to-fine decoder producing the saliency map.
package salient

import "fmt"

const (
	lnEps     = 1e-6
	bnEps     = 1e-6
	stemBNEps = 1e-5

	stemChannels = 64
	groups       = 3
)

// Config describes the network. Stage indices count the stem as entry 0
// and the paired conv/transformer stages as 1..Depth.
type Config struct {
	PatchSize    int // token patch edge in input pixels
	InChannels   int
	BaseChannel  int
	ChannelRatio int
	EmbedDim     int
	Depth        int // total conv/transformer stages, divisible by 3
	NumHeads     int
	MLPRatio     int
	QKVBias      bool
	NumMedBlocks int // extra stride-1 conv refinements per stage

	LDEStage  int   // stage feeding local detail enhancement
	GDEStages []int // stages feeding global detail enhancement

	Seed int64
}

// DefaultConfig is the reference configuration: 320x320 inputs, twelve
// stages in three groups of 256/512/1024 channels, 384-dim tokens.
func DefaultConfig() Config {
	return Config{
		PatchSize:    16,
		InChannels:   3,
		BaseChannel:  64,
		ChannelRatio: 4,
		EmbedDim:     384,
		Depth:        12,
		NumHeads:     6,
		MLPRatio:     4,
		QKVBias:      true,
		LDEStage:     4,
		GDEStages:    []int{11, 8},
	}
}

func (c Config) validate() error {
	if c.Depth <= 0 || c.Depth%groups != 0 {
		return fmt.Errorf("salient: depth %d must be a positive multiple of %d", c.Depth, groups)
	}
	if c.PatchSize%16 != 0 {
		return fmt.Errorf("salient: patch size %d must be a multiple of 16", c.PatchSize)
	}
	if c.dwStride(groups) != 1 {
		return fmt.Errorf("salient: patch size %d leaves the token grid misaligned with the deepest stage group", c.PatchSize)
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("salient: embed dim %d not divisible by %d heads", c.EmbedDim, c.NumHeads)
	}
	if c.InChannels <= 0 || c.BaseChannel <= 0 || c.ChannelRatio <= 0 || c.MLPRatio <= 0 {
		return fmt.Errorf("salient: channel configuration must be positive")
	}
	if c.LDEStage < 1 || c.LDEStage > c.Depth {
		return fmt.Errorf("salient: LDE stage %d outside 1..%d", c.LDEStage, c.Depth)
	}
	if c.stageGroup(c.LDEStage) != 1 {
		return fmt.Errorf("salient: LDE stage %d must sit in the first stage group", c.LDEStage)
	}
	var high, med bool
	for _, s := range c.GDEStages {
		if s < 1 || s > c.Depth {
			return fmt.Errorf("salient: GDE stage %d outside 1..%d", s, c.Depth)
		}
		if s == c.Depth {
			return fmt.Errorf("salient: GDE stage %d is the terminal stage, which feeds coarse prediction", s)
		}
		switch c.stageGroup(s) {
		case 2:
			med = true
		case 3:
			high = true
		default:
			return fmt.Errorf("salient: GDE stage %d sits in the first stage group; only the deeper two groups are gated", s)
		}
	}
	if !high || !med {
		return fmt.Errorf("salient: GDE stages %v must cover both the medium and high resolution groups", c.GDEStages)
	}
	return nil
}

// stageGroup maps a stage index (1..Depth) to its group (1..3). Groups
// share a channel width; widths double at each boundary.
func (c Config) stageGroup(stage int) int {
	return (stage-1)/(c.Depth/groups) + 1
}

// groupStart returns the first stage index of a group.
func (c Config) groupStart(group int) int {
	return (group-1)*(c.Depth/groups) + 1
}

// groupWidth returns the conv channel width of a group.
func (c Config) groupWidth(group int) int {
	return c.BaseChannel * c.ChannelRatio << (group - 1)
}

// dwStride returns the pooling factor between a group's feature maps and
// the token grid.
func (c Config) dwStride(group int) int {
	return c.PatchSize / 4 >> (group - 1)
}

func (c Config) headDim() int { return c.EmbedDim / c.NumHeads }
