package tensor

import (
	"testing"
)

func TestNewTensorShapeValidation(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		wantErr bool
	}{
		{"valid 2D", []int{2, 3}, false},
		{"valid 4D", []int{1, 3, 8, 8}, false},
		{"empty shape", []int{}, true},
		{"zero dimension", []int{2, 0}, true},
		{"negative dimension", []int{2, -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTensor(tt.shape, Float32, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTensor(%v) error = %v, wantErr %v", tt.shape, err, tt.wantErr)
			}
		})
	}
}

func TestNewTensorDataLengthMismatch(t *testing.T) {
	_, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for mismatched data length")
	}
}

func TestStrides(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3, 4}, Float32, nil)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	want := []int{12, 4, 1}
	for i, s := range want {
		if tensor.Strides[i] != s {
			t.Errorf("stride[%d] = %d, want %d", i, tensor.Strides[i], s)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig, err := NewTensor([]int{3}, Float32, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	clone, err := orig.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	clone.Float32Data()[0] = 99
	if orig.Float32Data()[0] != 1 {
		t.Error("modifying clone mutated the original")
	}
}

func TestReshape(t *testing.T) {
	tensor, err := NewTensor([]int{2, 6}, Float32, nil)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	reshaped, err := tensor.Reshape([]int{3, 4})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if reshaped.Shape[0] != 3 || reshaped.Shape[1] != 4 {
		t.Errorf("Reshape shape = %v, want [3 4]", reshaped.Shape)
	}

	if _, err := tensor.Reshape([]int{5, 5}); err == nil {
		t.Error("expected error reshaping to a different element count")
	}
}

func TestItem(t *testing.T) {
	scalar := FromScalar(2.5)
	v, err := scalar.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if v != 2.5 {
		t.Errorf("Item = %f, want 2.5", v)
	}

	vec, _ := NewTensor([]int{3}, Float32, nil)
	if _, err := vec.Item(); err == nil {
		t.Error("expected error calling Item on a multi-element tensor")
	}
}

func TestZeroGrad(t *testing.T) {
	p, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	p.SetRequiresGrad(true)

	out, err := ScaleAutograd(p, 3)
	if err != nil {
		t.Fatalf("ScaleAutograd failed: %v", err)
	}
	sum, err := SumAutograd(out)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := sum.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if p.Grad() == nil {
		t.Fatal("expected gradient after backward")
	}

	ZeroGrad([]*Tensor{p})
	if p.Grad() != nil {
		t.Error("expected nil gradient after ZeroGrad")
	}
}
