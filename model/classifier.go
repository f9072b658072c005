package model

import (
	"fmt"

	"github.com/specklab/cytonet/nn"
	"github.com/specklab/cytonet/tensor"
)

// NamedTensor pairs a parameter tensor with its stable checkpoint name.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

type namedBatchNorm struct {
	name string
	bn   *nn.BatchNorm2d
}

// Classifier is the dual-head residual network. The trunk runs stem, a first
// residual path and pool feeding the auxiliary head, then a second residual
// path and pool feeding the main head.
type Classifier struct {
	cfg Config

	stem     *nn.Sequential
	path1    *nn.Sequential
	pool1    *nn.AvgPool2d
	auxHead  *nn.Sequential
	path2    *nn.Sequential
	pool2    *nn.AvgPool2d
	mainHead *nn.Sequential

	named      []NamedTensor
	batchNorms []namedBatchNorm
	denses     []*nn.Dense

	training bool
}

func (c *Classifier) register(name string, t *tensor.Tensor) {
	c.named = append(c.named, NamedTensor{Name: name, Tensor: t})
}

func (c *Classifier) registerBN(name string, bn *nn.BatchNorm2d) {
	c.batchNorms = append(c.batchNorms, namedBatchNorm{name: name, bn: bn})
}

// Forward runs the network and returns the main and auxiliary head outputs,
// each [batch, classes] of probabilities.
func (c *Classifier) Forward(x *tensor.Tensor) (main, aux *tensor.Tensor, err error) {
	h, err := c.stem.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("stem: %v", err)
	}
	h, err = c.path1.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("path1: %v", err)
	}
	h, err = c.pool1.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("pool1: %v", err)
	}

	aux, err = c.auxHead.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("aux head: %v", err)
	}

	h, err = c.path2.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("path2: %v", err)
	}
	h, err = c.pool2.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("pool2: %v", err)
	}
	main, err = c.mainHead.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("main head: %v", err)
	}

	return main, aux, nil
}

// Parameters returns all learnable tensors in registration order.
func (c *Classifier) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, len(c.named))
	for _, nt := range c.named {
		params = append(params, nt.Tensor)
	}
	return params
}

// NamedParameters returns the learnable tensors with their checkpoint names.
func (c *Classifier) NamedParameters() []NamedTensor {
	return append([]NamedTensor(nil), c.named...)
}

// RegularizationLoss sums the L2 penalties of all weight-decayed layers. It
// returns nil when the architecture carries no regularization.
func (c *Classifier) RegularizationLoss() (*tensor.Tensor, error) {
	var total *tensor.Tensor
	for _, d := range c.denses {
		penalty, err := d.RegularizationLoss()
		if err != nil {
			return nil, err
		}
		if penalty == nil {
			continue
		}
		if total == nil {
			total = penalty
			continue
		}
		total, err = tensor.AddAutograd(total, penalty)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (c *Classifier) Train() {
	c.training = true
	for _, m := range c.children() {
		m.Train()
	}
}

func (c *Classifier) Eval() {
	c.training = false
	for _, m := range c.children() {
		m.Eval()
	}
}

func (c *Classifier) IsTraining() bool { return c.training }

func (c *Classifier) children() []nn.Module {
	return []nn.Module{c.stem, c.path1, c.pool1, c.auxHead, c.path2, c.pool2, c.mainHead}
}

// Config returns the architecture the classifier was built from.
func (c *Classifier) Config() Config { return c.cfg }

// StateEntry is one serializable piece of model state: a parameter or a batch
// norm running statistic.
type StateEntry struct {
	Name   string
	Shape  []int
	Values []float32
}

// State snapshots every parameter and batch norm running statistic.
func (c *Classifier) State() []StateEntry {
	entries := make([]StateEntry, 0, len(c.named)+2*len(c.batchNorms))
	for _, nt := range c.named {
		values := make([]float32, nt.Tensor.NumElems)
		copy(values, nt.Tensor.Float32Data())
		entries = append(entries, StateEntry{
			Name:   nt.Name,
			Shape:  append([]int(nil), nt.Tensor.Shape...),
			Values: values,
		})
	}
	for _, nb := range c.batchNorms {
		mean := make([]float32, len(nb.bn.RunningMean))
		copy(mean, nb.bn.RunningMean)
		variance := make([]float32, len(nb.bn.RunningVar))
		copy(variance, nb.bn.RunningVar)
		entries = append(entries,
			StateEntry{Name: nb.name + ".running_mean", Shape: []int{len(mean)}, Values: mean},
			StateEntry{Name: nb.name + ".running_var", Shape: []int{len(variance)}, Values: variance},
		)
	}
	return entries
}

// LoadState restores a snapshot produced by State. Every entry must match an
// existing parameter or statistic by name and size.
func (c *Classifier) LoadState(entries []StateEntry) error {
	params := make(map[string]*tensor.Tensor, len(c.named))
	for _, nt := range c.named {
		params[nt.Name] = nt.Tensor
	}
	stats := make(map[string][]float32, 2*len(c.batchNorms))
	for _, nb := range c.batchNorms {
		stats[nb.name+".running_mean"] = nb.bn.RunningMean
		stats[nb.name+".running_var"] = nb.bn.RunningVar
	}

	for _, e := range entries {
		if p, ok := params[e.Name]; ok {
			if len(e.Values) != p.NumElems {
				return fmt.Errorf("parameter %s has %d values, expected %d", e.Name, len(e.Values), p.NumElems)
			}
			copy(p.Float32Data(), e.Values)
			continue
		}
		if s, ok := stats[e.Name]; ok {
			if len(e.Values) != len(s) {
				return fmt.Errorf("statistic %s has %d values, expected %d", e.Name, len(e.Values), len(s))
			}
			copy(s, e.Values)
			continue
		}
		return fmt.Errorf("unknown state entry %q", e.Name)
	}
	return nil
}
