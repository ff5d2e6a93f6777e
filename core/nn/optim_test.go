package nn

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestClipGradNorm(t *testing.T) {
	a := newParam("a", 2, 2)
	b := newParam("b", 1, 3)
	a.Grad.Copy(mat.NewDense(2, 2, []float64{3, -4, 12, 0}))
	b.Grad.Copy(mat.NewDense(1, 3, []float64{0, 0, 84}))
	params := []*Param{a, b}

	pre := ClipGradNorm(params, 1.0)
	if math.Abs(pre-85) > 1e-12 {
		t.Fatalf("pre-clip norm %g, want 85", pre)
	}
	if post := GradNorm(params); post > 1.0+1e-9 {
		t.Fatalf("post-clip norm %g exceeds ceiling", post)
	}
	// direction is preserved
	if ratio := a.Grad.At(0, 0) / a.Grad.At(0, 1); math.Abs(ratio+0.75) > 1e-12 {
		t.Fatalf("clip changed gradient direction, ratio %g", ratio)
	}

	small := newParam("s", 1, 2)
	small.Grad.Copy(mat.NewDense(1, 2, []float64{0.3, 0.4}))
	ClipGradNorm([]*Param{small}, 1.0)
	if small.Grad.At(0, 0) != 0.3 || small.Grad.At(0, 1) != 0.4 {
		t.Fatalf("gradients under the ceiling must be untouched")
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := newParam("p", 1, 2)
	p.Value.Copy(mat.NewDense(1, 2, []float64{1, 1}))
	p.Grad.Copy(mat.NewDense(1, 2, []float64{10, -0.01}))
	opt := NewAdam(0.01)
	opt.Step([]*Param{p})
	if got := p.Value.At(0, 0); math.Abs(got-0.99) > 1e-6 {
		t.Fatalf("positive gradient step: got %g", got)
	}
	if got := p.Value.At(0, 1); math.Abs(got-1.01) > 1e-5 {
		t.Fatalf("negative gradient step: got %g", got)
	}
	if opt.Steps() != 1 {
		t.Fatalf("steps %d", opt.Steps())
	}
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	p := newParam("p", 1, 1)
	p.Value.Set(0, 0, 5)
	opt := NewAdam(0.1)
	for i := 0; i < 500; i++ {
		p.Grad.Set(0, 0, 2*p.Value.At(0, 0))
		opt.Step([]*Param{p})
	}
	if v := p.Value.At(0, 0); math.Abs(v) > 0.1 {
		t.Fatalf("expected convergence to 0, got %g", v)
	}
}

func TestMSELoss(t *testing.T) {
	pred := mat.NewDense(2, 1, []float64{1, 3})
	loss, grad, err := MSELoss(pred, []float64{0, 1})
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if loss != 2.5 {
		t.Fatalf("loss %g, want 2.5", loss)
	}
	if grad.At(0, 0) != 1 || grad.At(1, 0) != 2 {
		t.Fatalf("grad %v", mat.Formatted(grad))
	}
	if _, _, err := MSELoss(pred, []float64{1}); err == nil {
		t.Fatalf("expected shape error")
	}
}
