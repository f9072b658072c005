// Package model builds the dual-head residual image classifier: a strided
// convolutional stem, two runs of identity-skip residual stages, and an
// auxiliary plus a main classification head.
package model

import (
	"fmt"
	"math/rand"

	"github.com/specklab/cytonet/nn"
)

// Output head names, also used as metric key prefixes.
const (
	MainOutput = "main_output"
	AuxOutput  = "aux_output"
)

// BlockConfig describes one convolutional stage. PoolSize 0 means no pooling
// after the stage.
type BlockConfig struct {
	Filters         int  `json:"filters"`
	KernelSize      int  `json:"kernel_size"`
	Stride          int  `json:"stride"`
	PoolSize        int  `json:"pool_size"`
	FreezeBatchNorm bool `json:"freeze_batch_norm"`
}

// HeadConfig describes a classification head. HiddenUnits 0 selects the plain
// head (global pool, dense, softmax); a positive value inserts a regularized
// hidden dense layer with dropout before the classifier.
type HeadConfig struct {
	Classes     int     `json:"classes"`
	HiddenUnits int     `json:"hidden_units"`
	DropoutRate float64 `json:"dropout_rate"`
	WeightDecay float64 `json:"weight_decay"`
}

// Config is the full architecture description. It round-trips through JSON so
// checkpoints can rebuild the exact network.
type Config struct {
	InputChannels int         `json:"input_channels"`
	Stem          BlockConfig `json:"stem"`
	Block         BlockConfig `json:"block"`
	Path1Blocks   int         `json:"path1_blocks"`
	Path2Blocks   int         `json:"path2_blocks"`
	PathPoolSize  int         `json:"path_pool_size"`
	AuxHead       HeadConfig  `json:"aux_head"`
	MainHead      HeadConfig  `json:"main_head"`
	Seed          int64       `json:"seed"`
}

const (
	defaultFilters   = 64
	leakySlope       = 0.1
	defaultL2Penalty = 1e-4
)

// PlainConfig is the baseline variant: four residual stages on each path and
// plain heads.
func PlainConfig(inChannels, classes int, seed int64) Config {
	return Config{
		InputChannels: inChannels,
		Stem:          BlockConfig{Filters: defaultFilters, KernelSize: 7, Stride: 4, PoolSize: 2},
		Block:         BlockConfig{Filters: defaultFilters, KernelSize: 3, Stride: 1},
		Path1Blocks:   4,
		Path2Blocks:   4,
		PathPoolSize:  2,
		AuxHead:       HeadConfig{Classes: classes},
		MainHead:      HeadConfig{Classes: classes},
		Seed:          seed,
	}
}

// DropoutConfig is the regularized variant trained by the restart cycle:
// three residual stages on the second path and dropout heads with an
// L2-penalized hidden layer.
func DropoutConfig(inChannels, classes, hiddenUnits int, dropoutRate float64, seed int64) Config {
	cfg := PlainConfig(inChannels, classes, seed)
	cfg.Path2Blocks = 3
	head := HeadConfig{
		Classes:     classes,
		HiddenUnits: hiddenUnits,
		DropoutRate: dropoutRate,
		WeightDecay: defaultL2Penalty,
	}
	cfg.AuxHead = head
	cfg.MainHead = head
	return cfg
}

// New builds a classifier from the given architecture. Weight initialization
// and dropout draw from a generator seeded with cfg.Seed.
func New(cfg Config) (*Classifier, error) {
	if cfg.InputChannels < 1 {
		return nil, fmt.Errorf("invalid input channels %d", cfg.InputChannels)
	}
	if cfg.Stem.Filters < 1 || cfg.Block.Filters < 1 {
		return nil, fmt.Errorf("invalid filter counts: stem %d, block %d", cfg.Stem.Filters, cfg.Block.Filters)
	}
	if cfg.Stem.Filters != cfg.Block.Filters {
		return nil, fmt.Errorf("stem filters %d must match block filters %d for identity skips", cfg.Stem.Filters, cfg.Block.Filters)
	}
	if cfg.Path1Blocks < 0 || cfg.Path2Blocks < 0 {
		return nil, fmt.Errorf("negative block counts: %d, %d", cfg.Path1Blocks, cfg.Path2Blocks)
	}
	if cfg.AuxHead.Classes < 2 || cfg.MainHead.Classes < 2 {
		return nil, fmt.Errorf("heads need at least 2 classes, got aux %d main %d", cfg.AuxHead.Classes, cfg.MainHead.Classes)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	c := &Classifier{cfg: cfg, training: true}

	c.stem = c.buildStem(cfg, rng)
	c.path1 = c.buildPath("path1", cfg.Path1Blocks, cfg.Block, rng)
	c.pool1 = nn.NewAvgPool2d(cfg.PathPoolSize)
	c.auxHead = c.buildHead(AuxOutput, cfg.AuxHead, cfg.Block.Filters, rng)
	c.path2 = c.buildPath("path2", cfg.Path2Blocks, cfg.Block, rng)
	c.pool2 = nn.NewAvgPool2d(cfg.PathPoolSize)
	c.mainHead = c.buildHead(MainOutput, cfg.MainHead, cfg.Block.Filters, rng)

	return c, nil
}

func (c *Classifier) buildStem(cfg Config, rng *rand.Rand) *nn.Sequential {
	conv := nn.NewConv2D(cfg.InputChannels, cfg.Stem.Filters, cfg.Stem.KernelSize, cfg.Stem.Stride, cfg.Stem.KernelSize/2, rng)
	bn := nn.NewBatchNorm2d(cfg.Stem.Filters)
	bn.Frozen = cfg.Stem.FreezeBatchNorm

	c.register("stem.conv.weight", conv.W)
	c.register("stem.conv.bias", conv.B)
	c.register("stem.bn.gamma", bn.Gamma)
	c.register("stem.bn.beta", bn.Beta)
	c.registerBN("stem.bn", bn)

	modules := []nn.Module{conv, bn, nn.NewLeakyReLU(leakySlope)}
	if cfg.Stem.PoolSize > 1 {
		modules = append(modules, nn.NewAvgPool2d(cfg.Stem.PoolSize))
	}
	return nn.NewSequential(modules...)
}

func (c *Classifier) buildPath(prefix string, blocks int, block BlockConfig, rng *rand.Rand) *nn.Sequential {
	modules := make([]nn.Module, 0, blocks)
	for i := 0; i < blocks; i++ {
		name := fmt.Sprintf("%s.block%d", prefix, i)
		conv := nn.NewConv2D(block.Filters, block.Filters, block.KernelSize, block.Stride, block.KernelSize/2, rng)
		bn := nn.NewBatchNorm2d(block.Filters)
		bn.Frozen = block.FreezeBatchNorm

		c.register(name+".conv.weight", conv.W)
		c.register(name+".conv.bias", conv.B)
		c.register(name+".bn.gamma", bn.Gamma)
		c.register(name+".bn.beta", bn.Beta)
		c.registerBN(name+".bn", bn)

		modules = append(modules, nn.NewResidual(nn.NewSequential(conv, bn, nn.NewLeakyReLU(leakySlope))))
	}
	return nn.NewSequential(modules...)
}

func (c *Classifier) buildHead(name string, head HeadConfig, inFeatures int, rng *rand.Rand) *nn.Sequential {
	modules := []nn.Module{nn.NewGlobalAvgPool()}

	features := inFeatures
	if head.HiddenUnits > 0 {
		hidden := nn.NewDense(features, head.HiddenUnits, rng)
		hidden.WeightDecay = head.WeightDecay
		c.register(name+".hidden.weight", hidden.W)
		c.register(name+".hidden.bias", hidden.B)
		c.denses = append(c.denses, hidden)

		modules = append(modules, hidden, nn.NewLeakyReLU(leakySlope), nn.NewDropout(head.DropoutRate, rng))
		features = head.HiddenUnits
	}

	out := nn.NewDense(features, head.Classes, rng)
	c.register(name+".dense.weight", out.W)
	c.register(name+".dense.bias", out.B)
	c.denses = append(c.denses, out)

	modules = append(modules, out, nn.NewSoftmax())
	return nn.NewSequential(modules...)
}
