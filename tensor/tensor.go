package tensor

import (
	"fmt"
)

// DType identifies the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Operation is implemented by autograd ops. Each op remembers its inputs and
// knows how to turn the gradient of its output into gradients of its inputs.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

// Tensor is a dense CPU tensor in row-major layout.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{} // []float32 or []int32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

// RequiresGrad reports whether gradients are accumulated for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Float32Data returns the underlying float32 slice.
func (t *Tensor) Float32Data() []float32 {
	return t.Data.([]float32)
}

// Int32Data returns the underlying int32 slice.
func (t *Tensor) Int32Data() []int32 {
	return t.Data.([]int32)
}

// SetData replaces the tensor contents in place. The replacement must match
// the tensor's element count and dtype.
func (t *Tensor) SetData(data interface{}) error {
	switch d := data.(type) {
	case []float32:
		if t.DType != Float32 {
			return fmt.Errorf("cannot set float32 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]float32), d)
	case []int32:
		if t.DType != Int32 {
			return fmt.Errorf("cannot set int32 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]int32), d)
	default:
		return fmt.Errorf("unsupported data type %T", data)
	}
	return nil
}

// NewTensor creates a tensor with the given shape and data. A nil data slice
// allocates zeroed storage.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := numElements(shape)
	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: n,
	}

	switch dtype {
	case Float32:
		if data == nil {
			t.Data = make([]float32, n)
		} else {
			d, ok := data.([]float32)
			if !ok {
				return nil, fmt.Errorf("expected []float32 data, got %T", data)
			}
			if len(d) != n {
				return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, n)
			}
			t.Data = d
		}
	case Int32:
		if data == nil {
			t.Data = make([]int32, n)
		} else {
			d, ok := data.([]int32)
			if !ok {
				return nil, fmt.Errorf("expected []int32 data, got %T", data)
			}
			if len(d) != n {
				return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, n)
			}
			t.Data = d
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}

	return t, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

// FromScalar creates a one-element Float32 tensor.
func FromScalar(v float64) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{float32(v)})
	return t
}

// Item returns the value of a one-element Float32 tensor.
func (t *Tensor) Item() (float64, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item requires a Float32 tensor, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a one-element tensor, got %d elements", t.NumElems)
	}
	return float64(t.Data.([]float32)[0]), nil
}

// Clone returns a deep copy that does not participate in the autograd graph.
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		data := make([]float32, t.NumElems)
		copy(data, t.Data.([]float32))
		return NewTensor(t.Shape, t.DType, data)
	case Int32:
		data := make([]int32, t.NumElems)
		copy(data, t.Data.([]int32))
		return NewTensor(t.Shape, t.DType, data)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", t.DType)
	}
}

// Reshape returns a copy of the tensor with a new shape of equal size.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if numElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, shape)
	}
	out, err := t.Clone()
	if err != nil {
		return nil, err
	}
	out.Shape = append([]int(nil), shape...)
	out.Strides = calculateStrides(shape)
	return out, nil
}

// ZeroGrad clears the gradients of all given tensors.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.grad = nil
	}
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func numElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("empty shape")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
