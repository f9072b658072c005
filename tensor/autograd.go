package tensor

import (
	"fmt"
)

// Backward runs reverse-mode automatic differentiation from t, which must be
// a one-element Float32 tensor (typically a loss). Gradients accumulate into
// every reachable tensor with RequiresGrad set.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("Backward requires a Float32 tensor, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a one-element tensor, got shape %v", t.Shape)
	}

	seed, err := NewTensor(t.Shape, Float32, []float32{1})
	if err != nil {
		return err
	}

	order, err := topologicalOrder(t)
	if err != nil {
		return err
	}

	if err := accumulateGrad(t, seed); err != nil {
		return err
	}

	// Walk the graph from output to inputs, pushing gradients through each op.
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}
		inputGrads, err := node.creator.Backward(node.grad)
		if err != nil {
			return fmt.Errorf("backward through %T failed: %v", node.creator, err)
		}
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("%T returned %d gradients for %d inputs", node.creator, len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			if inputGrads[j] == nil {
				continue
			}
			if !in.requiresGrad && in.creator == nil {
				continue
			}
			if err := accumulateGrad(in, inputGrads[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// topologicalOrder returns the autograd graph reachable from root, inputs
// before outputs.
func topologicalOrder(root *Tensor) ([]*Tensor, error) {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor) error
	visit = func(t *Tensor) error {
		if visited[t] {
			return nil
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				if err := visit(in); err != nil {
					return err
				}
			}
		}
		order = append(order, t)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

func accumulateGrad(t, g *Tensor) error {
	if !shapesEqual(t.Shape, g.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// newResult builds the output tensor of an autograd op and links it into the
// graph when any input tracks gradients.
func newResult(shape []int, data []float32, op Operation) (*Tensor, error) {
	out, err := NewTensor(shape, Float32, data)
	if err != nil {
		return nil, err
	}
	for _, in := range op.Inputs() {
		if in.requiresGrad || in.creator != nil {
			out.creator = op
			break
		}
	}
	return out, nil
}
