package training

import (
	"fmt"
	"math"

	"github.com/specklab/cytonet/tensor"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	// Step applies one update. Parameters without a gradient are skipped.
	Step(params []*tensor.Tensor) error

	// ZeroGrad clears accumulated gradients.
	ZeroGrad(params []*tensor.Tensor)

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR changes the learning rate for subsequent steps.
	SetLR(lr float64)
}

// NewOptimizer builds an optimizer by name ("sgd" or "adam").
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(lr, 0.9), nil
	case "adam":
		return NewAdam(lr), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// SGD is stochastic gradient descent with classical momentum.
type SGD struct {
	lr       float64
	momentum float64
	velocity map[*tensor.Tensor][]float32
}

func NewSGD(lr, momentum float64) *SGD {
	return &SGD{
		lr:       lr,
		momentum: momentum,
		velocity: make(map[*tensor.Tensor][]float32),
	}
}

func (o *SGD) Step(params []*tensor.Tensor) error {
	lr := float32(o.lr)
	mom := float32(o.momentum)

	for _, p := range params {
		g := p.Grad()
		if g == nil {
			continue
		}
		pd := p.Float32Data()
		gd := g.Float32Data()
		if len(pd) != len(gd) {
			return fmt.Errorf("gradient size %d does not match parameter size %d", len(gd), len(pd))
		}

		v, ok := o.velocity[p]
		if !ok {
			v = make([]float32, len(pd))
			o.velocity[p] = v
		}
		for i := range pd {
			v[i] = mom*v[i] + gd[i]
			pd[i] -= lr * v[i]
		}
	}
	return nil
}

func (o *SGD) ZeroGrad(params []*tensor.Tensor) { tensor.ZeroGrad(params) }
func (o *SGD) GetLR() float64                   { return o.lr }
func (o *SGD) SetLR(lr float64)                 { o.lr = lr }

// Adam implements the Adam update rule with bias correction.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	step int
	m    map[*tensor.Tensor][]float32
	v    map[*tensor.Tensor][]float32
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make(map[*tensor.Tensor][]float32),
		v:     make(map[*tensor.Tensor][]float32),
	}
}

func (o *Adam) Step(params []*tensor.Tensor) error {
	o.step++
	correction1 := 1 - math.Pow(o.beta1, float64(o.step))
	correction2 := 1 - math.Pow(o.beta2, float64(o.step))
	stepSize := o.lr * math.Sqrt(correction2) / correction1

	b1 := float32(o.beta1)
	b2 := float32(o.beta2)

	for _, p := range params {
		g := p.Grad()
		if g == nil {
			continue
		}
		pd := p.Float32Data()
		gd := g.Float32Data()
		if len(pd) != len(gd) {
			return fmt.Errorf("gradient size %d does not match parameter size %d", len(gd), len(pd))
		}

		m, ok := o.m[p]
		if !ok {
			m = make([]float32, len(pd))
			o.m[p] = m
		}
		v, ok := o.v[p]
		if !ok {
			v = make([]float32, len(pd))
			o.v[p] = v
		}

		for i := range pd {
			m[i] = b1*m[i] + (1-b1)*gd[i]
			v[i] = b2*v[i] + (1-b2)*gd[i]*gd[i]
			pd[i] -= float32(stepSize) * m[i] / (float32(math.Sqrt(float64(v[i]))) + float32(o.eps))
		}
	}
	return nil
}

func (o *Adam) ZeroGrad(params []*tensor.Tensor) { tensor.ZeroGrad(params) }
func (o *Adam) GetLR() float64                   { return o.lr }
func (o *Adam) SetLR(lr float64)                 { o.lr = lr }
