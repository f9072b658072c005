package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func checkGrad(t *testing.T, name string, got *Tensor, want []float32) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: gradient is nil", name)
	}
	gd := got.Float32Data()
	if len(gd) != len(want) {
		t.Fatalf("%s: gradient has %d elements, want %d", name, len(gd), len(want))
	}
	for i := range want {
		if !approxEqual(float64(gd[i]), float64(want[i]), 1e-4) {
			t.Errorf("%s: grad[%d] = %f, want %f", name, i, gd[i], want[i])
		}
	}
}

func TestScaleAndSumBackward(t *testing.T) {
	x, _ := NewTensor([]int{3}, Float32, []float32{1, -2, 3})
	x.SetRequiresGrad(true)

	scaled, err := ScaleAutograd(x, 2)
	if err != nil {
		t.Fatalf("ScaleAutograd failed: %v", err)
	}
	loss, err := SumAutograd(scaled)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	v, _ := loss.Item()
	if !approxEqual(v, 4, 1e-6) {
		t.Errorf("loss = %f, want 4", v)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{2, 2, 2})
}

func TestAddBackwardAccumulatesBothInputs(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	b, _ := NewTensor([]int{2}, Float32, []float32{3, 4})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(sum)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "a", a.Grad(), []float32{1, 1})
	checkGrad(t, "b", b.Grad(), []float32{1, 1})
}

func TestMatMulForwardBackward(t *testing.T) {
	// x = [[1 2], [3 4]], w = [[5 6], [7 8]]
	x, _ := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	w, _ := NewTensor([]int{2, 2}, Float32, []float32{5, 6, 7, 8})
	x.SetRequiresGrad(true)
	w.SetRequiresGrad(true)

	out, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	want := []float32{19, 22, 43, 50}
	od := out.Float32Data()
	for i := range want {
		if !approxEqual(float64(od[i]), float64(want[i]), 1e-6) {
			t.Errorf("out[%d] = %f, want %f", i, od[i], want[i])
		}
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// dL/dx = ones @ w^T, dL/dw = x^T @ ones
	checkGrad(t, "x", x.Grad(), []float32{11, 15, 11, 15})
	checkGrad(t, "w", w.Grad(), []float32{4, 4, 6, 6})
}

func TestAddBiasBackward(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3}, Float32, []float32{10, 20, 30})
	x.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := AddBiasAutograd(x, b)
	if err != nil {
		t.Fatalf("AddBiasAutograd failed: %v", err)
	}
	if out.Float32Data()[4] != 25 {
		t.Errorf("out[1][1] = %f, want 25", out.Float32Data()[4])
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "b", b.Grad(), []float32{2, 2, 2})
}

func TestLeakyReLU(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, []float32{-2, -0.5, 0.5, 2})
	x.SetRequiresGrad(true)

	out, err := LeakyReLUAutograd(x, 0.1)
	if err != nil {
		t.Fatalf("LeakyReLUAutograd failed: %v", err)
	}
	wantOut := []float32{-0.2, -0.05, 0.5, 2}
	od := out.Float32Data()
	for i := range wantOut {
		if !approxEqual(float64(od[i]), float64(wantOut[i]), 1e-6) {
			t.Errorf("out[%d] = %f, want %f", i, od[i], wantOut[i])
		}
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{0.1, 0.1, 1, 1})
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x, _ := NewTensor([]int{2, 4}, Float32, []float32{1, 2, 3, 4, -1, 0, 1, 2})
	out, err := SoftmaxAutograd(x)
	if err != nil {
		t.Fatalf("SoftmaxAutograd failed: %v", err)
	}
	od := out.Float32Data()
	for r := 0; r < 2; r++ {
		var sum float64
		for j := 0; j < 4; j++ {
			v := float64(od[r*4+j])
			if v <= 0 || v >= 1 {
				t.Errorf("probability out of (0, 1): %f", v)
			}
			sum += v
		}
		if !approxEqual(sum, 1, 1e-5) {
			t.Errorf("row %d sums to %f, want 1", r, sum)
		}
	}
}

func TestSoftmaxCrossEntropyGradient(t *testing.T) {
	// For loss = CE(softmax(x), y) the input gradient is probs - onehot(y),
	// scaled by the per-sample weight over the weight sum.
	x, _ := NewTensor([]int{1, 3}, Float32, []float32{1, 2, 3})
	x.SetRequiresGrad(true)
	labels, _ := NewTensor([]int{1}, Int32, []int32{1})

	probs, err := SoftmaxAutograd(x)
	if err != nil {
		t.Fatalf("SoftmaxAutograd failed: %v", err)
	}
	loss, err := SparseCrossEntropyAutograd(probs, labels, nil)
	if err != nil {
		t.Fatalf("SparseCrossEntropyAutograd failed: %v", err)
	}

	pd := probs.Float32Data()
	wantLoss := -math.Log(float64(pd[1]))
	v, _ := loss.Item()
	if !approxEqual(v, wantLoss, 1e-5) {
		t.Errorf("loss = %f, want %f", v, wantLoss)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	want := []float32{pd[0], pd[1] - 1, pd[2]}
	checkGrad(t, "x", x.Grad(), want)
}

func TestSparseCrossEntropySampleWeights(t *testing.T) {
	probs, _ := NewTensor([]int{2, 2}, Float32, []float32{0.9, 0.1, 0.2, 0.8})
	probs.SetRequiresGrad(true)
	labels, _ := NewTensor([]int{2}, Int32, []int32{0, 1})

	loss, err := SparseCrossEntropyAutograd(probs, labels, []float32{5, 1})
	if err != nil {
		t.Fatalf("SparseCrossEntropyAutograd failed: %v", err)
	}
	want := (5*-math.Log(0.9) + 1*-math.Log(0.8)) / 6
	v, _ := loss.Item()
	if !approxEqual(v, want, 1e-5) {
		t.Errorf("weighted loss = %f, want %f", v, want)
	}
}

func TestSparseCrossEntropyRejectsBadLabel(t *testing.T) {
	probs, _ := NewTensor([]int{1, 2}, Float32, []float32{0.5, 0.5})
	labels, _ := NewTensor([]int{1}, Int32, []int32{7})
	if _, err := SparseCrossEntropyAutograd(probs, labels, nil); err == nil {
		t.Fatal("expected error for out-of-range label")
	}
}

func TestConv2DIdentityKernel(t *testing.T) {
	// A 1x1 kernel with weight 1 is the identity map.
	x, _ := NewTensor([]int{1, 1, 2, 2}, Float32, []float32{1, 2, 3, 4})
	w, _ := NewTensor([]int{1, 1, 1, 1}, Float32, []float32{1})
	x.SetRequiresGrad(true)
	w.SetRequiresGrad(true)

	out, err := Conv2DAutograd(x, w, nil, 1, 0)
	if err != nil {
		t.Fatalf("Conv2DAutograd failed: %v", err)
	}
	od := out.Float32Data()
	for i, want := range []float32{1, 2, 3, 4} {
		if od[i] != want {
			t.Errorf("out[%d] = %f, want %f", i, od[i], want)
		}
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{1, 1, 1, 1})
	checkGrad(t, "w", w.Grad(), []float32{10})
}

func TestConv2DStrideAndPadding(t *testing.T) {
	// 3x3 all-ones kernel, stride 2, pad 1 over a 4x4 input of ones: each
	// output taps the count of in-bounds positions.
	xData := make([]float32, 16)
	for i := range xData {
		xData[i] = 1
	}
	wData := make([]float32, 9)
	for i := range wData {
		wData[i] = 1
	}
	x, _ := NewTensor([]int{1, 1, 4, 4}, Float32, xData)
	w, _ := NewTensor([]int{1, 1, 3, 3}, Float32, wData)

	out, err := Conv2DAutograd(x, w, nil, 2, 1)
	if err != nil {
		t.Fatalf("Conv2DAutograd failed: %v", err)
	}
	if out.Shape[2] != 2 || out.Shape[3] != 2 {
		t.Fatalf("output shape = %v, want [1 1 2 2]", out.Shape)
	}
	want := []float32{4, 6, 6, 9}
	od := out.Float32Data()
	for i := range want {
		if od[i] != want[i] {
			t.Errorf("out[%d] = %f, want %f", i, od[i], want[i])
		}
	}
}

func TestConv2DBias(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 2, 2}, Float32, []float32{0, 0, 0, 0})
	w, _ := NewTensor([]int{1, 1, 1, 1}, Float32, []float32{1})
	b, _ := NewTensor([]int{1}, Float32, []float32{0.5})
	b.SetRequiresGrad(true)

	out, err := Conv2DAutograd(x, w, b, 1, 0)
	if err != nil {
		t.Fatalf("Conv2DAutograd failed: %v", err)
	}
	for i, v := range out.Float32Data() {
		if v != 0.5 {
			t.Errorf("out[%d] = %f, want 0.5", i, v)
		}
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "b", b.Grad(), []float32{4})
}

func TestAvgPool2D(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 4, 4}, Float32, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	x.SetRequiresGrad(true)

	out, err := AvgPool2DAutograd(x, 2)
	if err != nil {
		t.Fatalf("AvgPool2DAutograd failed: %v", err)
	}
	want := []float32{3.5, 5.5, 11.5, 13.5}
	od := out.Float32Data()
	for i := range want {
		if od[i] != want[i] {
			t.Errorf("out[%d] = %f, want %f", i, od[i], want[i])
		}
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gd := x.Grad().Float32Data()
	for i, v := range gd {
		if v != 0.25 {
			t.Errorf("grad[%d] = %f, want 0.25", i, v)
		}
	}
}

func TestAvgPool2DDropsTrailingRows(t *testing.T) {
	// 3x3 input with pool 2: only the top-left 2x2 window survives.
	x, _ := NewTensor([]int{1, 1, 3, 3}, Float32, []float32{
		1, 2, 9,
		3, 4, 9,
		9, 9, 9,
	})
	x.SetRequiresGrad(true)

	out, err := AvgPool2DAutograd(x, 2)
	if err != nil {
		t.Fatalf("AvgPool2DAutograd failed: %v", err)
	}
	if out.Shape[2] != 1 || out.Shape[3] != 1 {
		t.Fatalf("output shape = %v, want [1 1 1 1]", out.Shape)
	}
	if out.Float32Data()[0] != 2.5 {
		t.Errorf("out = %f, want 2.5", out.Float32Data()[0])
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gd := x.Grad().Float32Data()
	wantGrad := []float32{0.25, 0.25, 0, 0.25, 0.25, 0, 0, 0, 0}
	for i := range wantGrad {
		if gd[i] != wantGrad[i] {
			t.Errorf("grad[%d] = %f, want %f", i, gd[i], wantGrad[i])
		}
	}

	small, _ := NewTensor([]int{1, 1, 1, 1}, Float32, nil)
	if _, err := AvgPool2DAutograd(small, 2); err == nil {
		t.Fatal("expected error for input smaller than the pool window")
	}
}

func TestGlobalAvgPool2D(t *testing.T) {
	x, _ := NewTensor([]int{1, 2, 2, 2}, Float32, []float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	})
	x.SetRequiresGrad(true)

	out, err := GlobalAvgPool2DAutograd(x)
	if err != nil {
		t.Fatalf("GlobalAvgPool2DAutograd failed: %v", err)
	}
	if out.Shape[0] != 1 || out.Shape[1] != 2 {
		t.Fatalf("output shape = %v, want [1 2]", out.Shape)
	}
	od := out.Float32Data()
	if od[0] != 2.5 || od[1] != 25 {
		t.Errorf("out = %v, want [2.5 25]", od)
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	for i, v := range x.Grad().Float32Data() {
		if v != 0.25 {
			t.Errorf("grad[%d] = %f, want 0.25", i, v)
		}
	}
}

func TestBatchNorm2DForwardBackward(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 1, 2}, Float32, []float32{1, 3})
	gamma, _ := NewTensor([]int{1}, Float32, []float32{2})
	beta, _ := NewTensor([]int{1}, Float32, []float32{0.5})
	x.SetRequiresGrad(true)
	gamma.SetRequiresGrad(true)
	beta.SetRequiresGrad(true)

	// mean 2, variance 1: xhat = [-1, 1], out = gamma*xhat + beta
	out, err := BatchNorm2DAutograd(x, gamma, beta, []float32{2}, []float32{1}, 0)
	if err != nil {
		t.Fatalf("BatchNorm2DAutograd failed: %v", err)
	}
	od := out.Float32Data()
	if !approxEqual(float64(od[0]), -1.5, 1e-5) || !approxEqual(float64(od[1]), 2.5, 1e-5) {
		t.Errorf("out = %v, want [-1.5 2.5]", od)
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{2, 2})
	checkGrad(t, "gamma", gamma.Grad(), []float32{0}) // -1 + 1
	checkGrad(t, "beta", beta.Grad(), []float32{2})
}

func TestDropoutMaskAndScaling(t *testing.T) {
	n := 1000
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	x, _ := NewTensor([]int{n}, Float32, data)
	x.SetRequiresGrad(true)

	rng := rand.New(rand.NewSource(7))
	out, err := DropoutAutograd(x, 0.5, rng)
	if err != nil {
		t.Fatalf("DropoutAutograd failed: %v", err)
	}

	od := out.Float32Data()
	var zeros, survivors int
	for _, v := range od {
		switch v {
		case 0:
			zeros++
		case 2:
			survivors++
		default:
			t.Fatalf("unexpected output value %f, want 0 or 2", v)
		}
	}
	if zeros == 0 || survivors == 0 {
		t.Fatalf("expected a mix of dropped and kept elements, got %d/%d", zeros, survivors)
	}
	if zeros < n/4 || zeros > 3*n/4 {
		t.Errorf("dropped %d of %d at rate 0.5", zeros, n)
	}

	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gd := x.Grad().Float32Data()
	for i := range gd {
		if od[i] == 0 && gd[i] != 0 {
			t.Fatal("dropped element received gradient")
		}
		if od[i] != 0 && gd[i] != 2 {
			t.Fatalf("kept element gradient = %f, want 2", gd[i])
		}
	}
}

func TestDropoutRejectsBadRate(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, nil)
	rng := rand.New(rand.NewSource(1))
	if _, err := DropoutAutograd(x, 1.0, rng); err == nil {
		t.Fatal("expected error for rate 1.0")
	}
}

func TestL2Penalty(t *testing.T) {
	w, _ := NewTensor([]int{3}, Float32, []float32{1, -2, 3})
	w.SetRequiresGrad(true)

	loss, err := L2PenaltyAutograd(w, 0.5)
	if err != nil {
		t.Fatalf("L2PenaltyAutograd failed: %v", err)
	}
	v, _ := loss.Item()
	if !approxEqual(v, 7, 1e-5) { // 0.5 * (1 + 4 + 9)
		t.Errorf("penalty = %f, want 7", v)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "w", w.Grad(), []float32{1, -2, 3}) // 2 * 0.5 * w
}

func TestBackwardAccumulatesThroughSharedInput(t *testing.T) {
	// y = x + x should give dy/dx = 2 per element.
	x, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	x.SetRequiresGrad(true)

	sum, err := AddAutograd(x, x)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(sum)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{2, 2})
}

func TestBackwardRequiresScalar(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	x.SetRequiresGrad(true)
	if err := x.Backward(); err == nil {
		t.Fatal("expected error calling Backward on a multi-element tensor")
	}
}
