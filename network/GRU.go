package network

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/initwfn"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	"github.com/samuelfneumann/godreamer/utils/tensorutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// LayerNormGRU is a gated recurrent cell whose gate pre-activations are
// layer normalized:
//
//	parts  = LayerNorm([x, h]W)
//	reset  = σ(parts[0:H])
//	cand   = tanh(reset ⊙ parts[H:2H])
//	update = σ(parts[2H:3H] - 1)
//	h'     = update ⊙ cand + (1 - update) ⊙ h
type LayerNormGRU struct {
	Name          string
	Input, Hidden int
	fc            *FC
	norm          *LayerNorm
}

// NewLayerNormGRU returns a new recurrent cell
func NewLayerNormGRU(name string, input, hidden int,
	init *initwfn.InitWFn) (*LayerNormGRU, error) {
	fc, err := NewFC(name+"/gates", input+hidden, 3*hidden, false, init)
	if err != nil {
		return nil, fmt.Errorf("newLayerNormGRU: %v", err)
	}
	return &LayerNormGRU{
		Name:   name,
		Input:  input,
		Hidden: hidden,
		fc:     fc,
		norm:   NewLayerNorm(name+"/norm", 3*hidden),
	}, nil
}

// Init registers the parameters of the cell
func (c *LayerNormGRU) Init(p *Params) error {
	if err := c.fc.Init(p); err != nil {
		return err
	}
	return c.norm.Init(p)
}

// OutputDim returns the size of the recurrent state
func (c *LayerNormGRU) OutputDim() int {
	return c.Hidden
}

// Step computes the next recurrent state numerically
func (c *LayerNormGRU) Step(v View, x, h *mat.Dense) *mat.Dense {
	parts := c.norm.Forward(v, c.fc.Forward(v, hStack(x, h)))

	r, _ := parts.Dims()
	H := c.Hidden
	out := mat.NewDense(r, H, nil)
	for i := 0; i < r; i++ {
		p := parts.RawRowView(i)
		prev := h.RawRowView(i)
		row := out.RawRowView(i)
		for j := 0; j < H; j++ {
			reset := floatutils.Sigmoid(p[j])
			cand := math.Tanh(reset * p[H+j])
			update := floatutils.Sigmoid(p[2*H+j] - 1)
			row[j] = update*cand + (1-update)*prev[j]
		}
	}
	return out
}

// StepFwd adds one recurrent step to the computational graph
func (c *LayerNormGRU) StepFwd(b *Binder, x, h *G.Node) (*G.Node, error) {
	in, err := G.Concat(1, x, h)
	if err != nil {
		return nil, fmt.Errorf("stepFwd: %v: %v", c.Name, err)
	}
	parts, err := c.fc.Fwd(b, in)
	if err != nil {
		return nil, err
	}
	if parts, err = c.norm.Fwd(b, parts); err != nil {
		return nil, err
	}

	H := c.Hidden
	reset := G.Must(G.Slice(parts, nil, tensorutils.NewSlice(0, H, 1)))
	cand := G.Must(G.Slice(parts, nil, tensorutils.NewSlice(H, 2*H, 1)))
	update := G.Must(G.Slice(parts, nil, tensorutils.NewSlice(2*H, 3*H, 1)))

	reset = G.Must(G.Sigmoid(reset))
	cand = G.Must(G.Tanh(G.Must(G.HadamardProd(reset, cand))))
	update = G.Must(G.Sigmoid(op.AddConst(update, -1)))

	// update ⊙ cand + h - update ⊙ h
	next := G.Must(G.HadamardProd(update, cand))
	next = G.Must(G.Add(next, h))
	return G.Sub(next, G.Must(G.HadamardProd(update, h)))
}

func hStack(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	out.Slice(0, r, 0, ca).(*mat.Dense).Copy(a)
	out.Slice(0, r, ca, ca+cb).(*mat.Dense).Copy(b)
	return out
}
