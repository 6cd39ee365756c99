package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// RSSM is a recurrent state-space model. Its latent state is a pair of
// a deterministic recurrent state and a stochastic state made of
// N one-hot categoricals of K classes each.
//
// The recurrent state is advanced from the previous stochastic state
// and action by a LayerNorm GRU. The prior over the next stochastic
// state is predicted from the recurrent state alone (transition) and
// the posterior from the recurrent state and an embedded observation
// (representation).
type RSSM struct {
	stochSize     int
	recurrentSize int
	actionSize    int
	embedSize     int

	input          *network.Dense
	cell           *network.LayerNormGRU
	transition     *Head
	representation *Head
	dist           *distribution.OneHot
}

// Step is the output of one dynamic step of an RSSM. Log-probabilities
// are the unimix-smoothed logits of the categoricals.
type Step struct {
	Recurrent *mat.Dense
	Posterior *mat.Dense
	Prior     *mat.Dense

	PosteriorProbs, PosteriorLogits *mat.Dense
	PriorProbs, PriorLogits         *mat.Dense
}

// NewRSSM returns a new RSSM over embeddings of size embedSize and
// actions of size actionSize
func NewRSSM(c *Config, embedSize, actionSize int) (*RSSM, error) {
	init := weightInit(c)
	stochSize := c.StochasticSize * c.DiscreteSize

	input, err := network.NewDense("rssm/input", stochSize+actionSize,
		c.DenseUnits, c.LayerNorm, c.activation(), init)
	if err != nil {
		return nil, fmt.Errorf("newRSSM: %v", err)
	}
	cell, err := network.NewLayerNormGRU("rssm/gru", c.DenseUnits,
		c.RecurrentSize, init)
	if err != nil {
		return nil, fmt.Errorf("newRSSM: %v", err)
	}

	// Both models use a single hidden layer
	single := *c
	single.MLPLayers = 1
	transition, err := newHead("rssm/transition", &single, c.RecurrentSize,
		stochSize, false)
	if err != nil {
		return nil, fmt.Errorf("newRSSM: %v", err)
	}
	representation, err := newHead("rssm/representation", &single,
		c.RecurrentSize+embedSize, stochSize, false)
	if err != nil {
		return nil, fmt.Errorf("newRSSM: %v", err)
	}
	dist, err := distribution.NewOneHot(c.DiscreteSize, c.Unimix)
	if err != nil {
		return nil, fmt.Errorf("newRSSM: %v", err)
	}

	return &RSSM{
		stochSize:      stochSize,
		recurrentSize:  c.RecurrentSize,
		actionSize:     actionSize,
		embedSize:      embedSize,
		input:          input,
		cell:           cell,
		transition:     transition,
		representation: representation,
		dist:           dist,
	}, nil
}

// Init registers the parameters of the RSSM
func (r *RSSM) Init(p *network.Params) error {
	if err := r.input.Init(p); err != nil {
		return err
	}
	if err := r.cell.Init(p); err != nil {
		return err
	}
	if err := r.transition.Init(p); err != nil {
		return err
	}
	return r.representation.Init(p)
}

// StochasticSize returns the size N·K of a stochastic state
func (r *RSSM) StochasticSize() int {
	return r.stochSize
}

// RecurrentSize returns the size of a recurrent state
func (r *RSSM) RecurrentSize() int {
	return r.recurrentSize
}

// InitialState returns the episode-start latent state of a batch: the
// recurrent state tanh(0) and the mode of the prior predicted from it
func (r *RSSM) InitialState(v network.View, batch int) (recurrent,
	stoch *mat.Dense) {
	recurrent = mat.NewDense(batch, r.recurrentSize, nil)
	probs, _ := r.Transition(v, recurrent)
	return recurrent, r.dist.Mode(probs)
}

// Recurrent advances the recurrent state from the previous stochastic
// state and action
func (r *RSSM) Recurrent(v network.View, stoch, recurrent,
	action *mat.Dense) *mat.Dense {
	x := r.input.Forward(v, matutils.HStack(stoch, action))
	return r.cell.Step(v, x, recurrent)
}

// Transition returns the prior probabilities and logits of the
// stochastic state given the recurrent state
func (r *RSSM) Transition(v network.View, recurrent *mat.Dense) (probs,
	logits *mat.Dense) {
	return r.dist.Probs(r.transition.Forward(v, recurrent))
}

// Representation returns the posterior probabilities and logits of the
// stochastic state given the recurrent state and embedded observation
func (r *RSSM) Representation(v network.View, recurrent,
	embed *mat.Dense) (probs, logits *mat.Dense) {
	in := matutils.HStack(recurrent, embed)
	return r.dist.Probs(r.representation.Forward(v, in))
}

// reset returns copies of the stochastic state, recurrent state and
// action where rows flagged by isFirst hold the episode-start state
// and a zero action
func (r *RSSM) reset(v network.View, stoch, recurrent, action *mat.Dense,
	isFirst []float64) (*mat.Dense, *mat.Dense, *mat.Dense) {
	stoch = mat.DenseCopyOf(stoch)
	recurrent = mat.DenseCopyOf(recurrent)
	action = mat.DenseCopyOf(action)

	var initStoch *mat.Dense
	for i, first := range isFirst {
		if first == 0 {
			continue
		}
		if initStoch == nil {
			_, initStoch = r.InitialState(v, 1)
		}
		zero(recurrent.RawRowView(i))
		zero(action.RawRowView(i))
		copy(stoch.RawRowView(i), initStoch.RawRowView(0))
	}
	return stoch, recurrent, action
}

func zero(row []float64) {
	for j := range row {
		row[j] = 0
	}
}

// sample draws a one-hot sample from probs, or takes its mode
func (r *RSSM) sample(probs *mat.Dense, rng *rand.Rand,
	sample bool) *mat.Dense {
	if sample {
		return r.dist.Sample(probs, rng)
	}
	return r.dist.Mode(probs)
}

// Dynamic performs one step of the model on real data. Rows flagged by
// isFirst are first reset, so that no state leaks across episodes. The
// recurrent state is then advanced, and the prior and posterior are
// computed and sampled (or their modes taken, when sample is false).
func (r *RSSM) Dynamic(v network.View, stoch, recurrent, action,
	embed *mat.Dense, isFirst []float64, rng *rand.Rand,
	sample bool) *Step {
	stoch, recurrent, action = r.reset(v, stoch, recurrent, action,
		isFirst)

	out := &Step{Recurrent: r.Recurrent(v, stoch, recurrent, action)}
	out.PriorProbs, out.PriorLogits = r.Transition(v, out.Recurrent)
	out.PosteriorProbs, out.PosteriorLogits = r.Representation(v,
		out.Recurrent, embed)
	out.Prior = r.sample(out.PriorProbs, rng, sample)
	out.Posterior = r.sample(out.PosteriorProbs, rng, sample)
	return out
}

// Imagination advances a latent state without observations, returning
// the sampled prior and the new recurrent state
func (r *RSSM) Imagination(v network.View, stoch, recurrent,
	action *mat.Dense, rng *rand.Rand) (prior, nextRecurrent *mat.Dense) {
	nextRecurrent = r.Recurrent(v, stoch, recurrent, action)
	probs, _ := r.Transition(v, nextRecurrent)
	return r.dist.Sample(probs, rng), nextRecurrent
}

// RecurrentFwd adds the recurrent update to a graph
func (r *RSSM) RecurrentFwd(b *network.Binder, stoch, recurrent,
	action *G.Node) (*G.Node, error) {
	in, err := G.Concat(1, stoch, action)
	if err != nil {
		return nil, fmt.Errorf("recurrentFwd: %v", err)
	}
	x, err := r.input.Fwd(b, in)
	if err != nil {
		return nil, fmt.Errorf("recurrentFwd: %v", err)
	}
	return r.cell.StepFwd(b, x, recurrent)
}

// TransitionFwd adds the prior to a graph
func (r *RSSM) TransitionFwd(b *network.Binder,
	recurrent *G.Node) (probs, logits *G.Node, err error) {
	out, err := r.transition.Fwd(b, recurrent)
	if err != nil {
		return nil, nil, fmt.Errorf("transitionFwd: %v", err)
	}
	return r.dist.ProbsNode(out)
}

// RepresentationFwd adds the posterior to a graph
func (r *RSSM) RepresentationFwd(b *network.Binder, recurrent,
	embed *G.Node) (probs, logits *G.Node, err error) {
	in, err := G.Concat(1, recurrent, embed)
	if err != nil {
		return nil, nil, fmt.Errorf("representationFwd: %v", err)
	}
	out, err := r.representation.Fwd(b, in)
	if err != nil {
		return nil, nil, fmt.Errorf("representationFwd: %v", err)
	}
	return r.dist.ProbsNode(out)
}
