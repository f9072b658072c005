// Package nn provides composable network modules over the tensor package's
// autograd ops. Modules follow a small PyTorch-like contract: a forward pass,
// a flat parameter list, and a training/evaluation mode toggle.
package nn

import (
	"fmt"

	"github.com/specklab/cytonet/tensor"
)

// Module is the interface implemented by all network components.
type Module interface {
	// Forward computes the output of the module for the given input.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)

	// Parameters returns all learnable tensors of the module.
	Parameters() []*tensor.Tensor

	// Train puts the module in training mode (dropout active, batch norm
	// uses batch statistics).
	Train()

	// Eval puts the module in evaluation mode.
	Eval()

	// IsTraining reports the current mode.
	IsTraining() bool
}

// Sequential chains modules, feeding each output into the next input.
type Sequential struct {
	modules  []Module
	training bool
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules, training: true}
}

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	for i, m := range s.modules {
		var err error
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("module %d (%T): %v", i, m, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// Modules returns the chained modules in order.
func (s *Sequential) Modules() []Module { return s.modules }

// Residual wraps a body whose output shape matches its input shape and adds
// the input back onto the output (an identity skip connection).
type Residual struct {
	body     Module
	training bool
}

func NewResidual(body Module) *Residual {
	return &Residual{body: body, training: true}
}

func (r *Residual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := r.body.Forward(x)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(out, x)
}

func (r *Residual) Parameters() []*tensor.Tensor { return r.body.Parameters() }

func (r *Residual) Train() {
	r.training = true
	r.body.Train()
}

func (r *Residual) Eval() {
	r.training = false
	r.body.Eval()
}

func (r *Residual) IsTraining() bool { return r.training }

// Body returns the wrapped module.
func (r *Residual) Body() Module { return r.body }
