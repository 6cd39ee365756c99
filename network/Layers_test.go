package network

import (
	"math"
	"testing"

	"github.com/samuelfneumann/godreamer/initwfn"
	"github.com/samuelfneumann/godreamer/utils/tensorutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func inputNode(g *G.ExprGraph, name string, x *mat.Dense) *G.Node {
	r, c := x.Dims()
	return G.NewMatrix(g, tensor.Float64, G.WithShape(r, c), G.WithName(name),
		G.WithValue(tensorutils.FromDense(x)))
}

func runGraph(t *testing.T, g *G.ExprGraph, out *G.Node) *mat.Dense {
	t.Helper()
	var value G.Value
	G.Read(out, &value)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run graph: %v", err)
	}
	return tensorutils.ToDense(value.(tensor.Tensor))
}

func assertClose(t *testing.T, want, have mat.Matrix, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	hr, hc := have.Dims()
	if wr != hr || wc != hc {
		t.Fatalf("shape \n\twant(%v, %v)\n\thave(%v, %v)", wr, wc, hr, hc)
	}
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			if math.Abs(want.At(i, j)-have.At(i, j)) > tol {
				t.Fatalf("value at (%v, %v) \n\twant(%v)\n\thave(%v)", i, j,
					want.At(i, j), have.At(i, j))
			}
		}
	}
}

func TestDenseGraphMatchesNumeric(t *testing.T) {
	activations := []string{"relu", "tanh", "silu", "elu", "sigmoid",
		"identity"}
	rng := rand.New(rand.NewSource(1))
	init, _ := initwfn.NewGlorotN(1.0)

	for _, name := range activations {
		for _, layerNorm := range []bool{true, false} {
			act, err := ActivationByName(name)
			if err != nil {
				t.Fatal(err)
			}
			mlp, err := NewMLP("mlp", 5, 7, 2, layerNorm, act, init)
			if err != nil {
				t.Fatal(err)
			}
			p := NewParams()
			if err := mlp.Init(p); err != nil {
				t.Fatal(err)
			}
			x := randomDense(rng, 3, 5)

			g := G.NewGraph()
			b := NewBinder(g, p, "")
			out, err := mlp.Fwd(b, inputNode(g, "x", x))
			if err != nil {
				t.Fatal(err)
			}
			assertClose(t, mlp.Forward(p.View(), x), runGraph(t, g, out), 1e-9)
		}
	}
}

func TestGRUGraphMatchesNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	init, _ := initwfn.NewGlorotN(1.0)

	gru, err := NewLayerNormGRU("gru", 4, 6, init)
	if err != nil {
		t.Fatal(err)
	}
	p := NewParams()
	if err := gru.Init(p); err != nil {
		t.Fatal(err)
	}
	x, h := randomDense(rng, 2, 4), randomDense(rng, 2, 6)

	g := G.NewGraph()
	b := NewBinder(g, p, "")
	out, err := gru.StepFwd(b, inputNode(g, "x", x), inputNode(g, "h", h))
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, gru.Step(p.View(), x, h), runGraph(t, g, out), 1e-9)
}

func TestCNNGraphMatchesNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	init, _ := initwfn.NewGlorotN(1.0)

	cnn, err := NewCNN("cnn", 3, 8, 8, []int{2, 4}, ReLU(), init)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 4*2*2, cnn.OutputDim(); want != have {
		t.Fatalf("output dim \n\twant(%v)\n\thave(%v)", want, have)
	}
	p := NewParams()
	if err := cnn.Init(p); err != nil {
		t.Fatal(err)
	}
	x := randomDense(rng, 2, 3*8*8)

	g := G.NewGraph()
	b := NewBinder(g, p, "")
	images := G.NewTensor(g, tensor.Float64, 4, G.WithShape(2, 3, 8, 8),
		G.WithName("images"), G.WithValue(tensor.New(
			tensor.WithShape(2, 3, 8, 8),
			tensor.WithBacking(tensorutils.Float64s(tensorutils.FromDense(x))),
		)))
	out, err := cnn.Fwd(b, images)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, cnn.Forward(p.View(), x), runGraph(t, g, out), 1e-9)
}

func TestActivationByNameIllegal(t *testing.T) {
	if _, err := ActivationByName("swishy"); err == nil {
		t.Error("expected error for unknown activation")
	}
}

func TestNewMLPIllegalWidth(t *testing.T) {
	init, _ := initwfn.NewGlorotN(1.0)
	if _, err := NewMLP("mlp", 3, 0, 2, true, ReLU(), init); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestBinderStore(t *testing.T) {
	init, _ := initwfn.NewConstant(2.0)
	fc, _ := NewFC("fc", 2, 2, true, init)
	p := NewParams()
	fc.Init(p)

	g := G.NewGraph()
	b := NewBinder(g, p, "train/")
	b.Node("fc/W")
	if n := len(b.Learnables()); n != 1 {
		t.Fatalf("learnables \n\twant(1)\n\thave(%v)", n)
	}

	value := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{1, 2, 3, 4}))
	G.Let(b.Node("fc/W"), value)
	if err := b.Store(); err != nil {
		t.Fatal(err)
	}
	if have := p.View().Raw("fc/W")[3]; have != 4 {
		t.Errorf("stored value \n\twant(4)\n\thave(%v)", have)
	}

	// Load must restore the stored parameters into the node
	p2 := p.Clone()
	Set(p, p2)
	if err := b.Load(); err != nil {
		t.Fatal(err)
	}
}
