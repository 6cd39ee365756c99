package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/expreplay"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/solver"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// WorldModel groups the networks that learn the environment dynamics:
// the Encoder, the RSSM and the heads that decode latent states back
// into observations, rewards and continuation flags. A WorldModel holds
// no parameters itself; every method reads them from a network.View.
type WorldModel struct {
	Encoder  *Encoder
	RSSM     *RSSM
	Decoder  *Decoder
	Reward   *RewardHead
	Continue *ContinueHead

	actionSize int
}

// NewWorldModel returns a new WorldModel for an environment with the
// given observation specification and action size
func NewWorldModel(c *Config, obsSpec map[string]env.Spec,
	actionSize int) (*WorldModel, error) {
	encoder, err := NewEncoder(c, obsSpec)
	if err != nil {
		return nil, err
	}
	rssm, err := NewRSSM(c, encoder.OutputDim(), actionSize)
	if err != nil {
		return nil, err
	}
	decoder, err := NewDecoder(c, encoder)
	if err != nil {
		return nil, err
	}
	reward, err := NewRewardHead(c)
	if err != nil {
		return nil, err
	}
	cont, err := NewContinueHead(c)
	if err != nil {
		return nil, err
	}
	return &WorldModel{
		Encoder:    encoder,
		RSSM:       rssm,
		Decoder:    decoder,
		Reward:     reward,
		Continue:   cont,
		actionSize: actionSize,
	}, nil
}

// Init registers the parameters of every network
func (w *WorldModel) Init(p *network.Params) error {
	layers := []interface{ Init(*network.Params) error }{
		w.Encoder, w.RSSM, w.Decoder, w.Reward, w.Continue,
	}
	for _, l := range layers {
		if err := l.Init(p); err != nil {
			return fmt.Errorf("init: %v", err)
		}
	}
	return nil
}

// Latent concatenates stochastic and recurrent states
func Latent(stoch, recurrent *mat.Dense) *mat.Dense {
	return matutils.HStack(stoch, recurrent)
}

// Observation is the result of running the RSSM over a batch of real
// sequences. Step t of every field holds one row per sequence.
type Observation struct {
	Steps   []*Step
	Images  []*mat.Dense
	Vectors []*mat.Dense
}

// observationsAt returns the observations of step t of a batch
func observationsAt(batch *expreplay.Batch, t int) map[string]*mat.Dense {
	obs := make(map[string]*mat.Dense, len(batch.Observations))
	for key, steps := range batch.Observations {
		obs[key] = steps[t]
	}
	return obs
}

// Observe rolls the RSSM over a batch of sequences starting from the
// episode-start state, sampling posteriors at every step
func (w *WorldModel) Observe(v network.View, batch *expreplay.Batch,
	rng *rand.Rand) (*Observation, error) {
	T, B := batch.SequenceLength(), batch.BatchSize()
	recurrent, stoch := w.RSSM.InitialState(v, B)

	out := &Observation{
		Steps:   make([]*Step, T),
		Images:  make([]*mat.Dense, T),
		Vectors: make([]*mat.Dense, T),
	}
	for t := 0; t < T; t++ {
		images, vectors, err := w.Encoder.Inputs(observationsAt(batch, t))
		if err != nil {
			return nil, fmt.Errorf("observe: step %v: %v", t, err)
		}
		embed := w.Encoder.Forward(v, images, vectors)
		step := w.RSSM.Dynamic(v, stoch, recurrent, batch.Actions[t], embed,
			batch.IsFirst[t], rng, true)

		out.Steps[t], out.Images[t], out.Vectors[t] = step, images, vectors
		stoch, recurrent = step.Posterior, step.Recurrent
	}
	return out, nil
}

// WorldModelLoss holds the batch means of the world model loss terms
type WorldModelLoss struct {
	Total            float64
	Observation      float64
	Reward           float64
	Continue         float64
	KLDynamics       float64
	KLRepresentation float64
}

// worldModelGraph is the training graph of a WorldModel for batches of
// a fixed sequence length and batch size. The RSSM is unrolled over the
// sequence in the graph. Sampling happens numerically in Observe with
// the same parameters; the graph adds the residual between each sample
// and its probabilities, making samples straight-through.
type worldModelGraph struct {
	wm     *WorldModel
	c      *Config
	binder *network.Binder
	vm     G.VM
	solver *solver.Solver

	T, B int

	images, vectors, actions          []*G.Node
	keep, keepStoch, resetStoch       []*G.Node
	residuals, rewards, continues     []*G.Node
	postProbs, postLogits, priorLogit []*G.Node
	above                             []*G.Node

	loss, obsLL, rewLL, contLL, dyn, rep G.Value
}

// newWorldModelGraph builds the training graph of w
func newWorldModelGraph(w *WorldModel, c *Config, params *network.Params,
	s *solver.Solver, T, B int) (*worldModelGraph, error) {
	g := G.NewGraph()
	wg := &worldModelGraph{
		wm:     w,
		c:      c,
		binder: network.NewBinder(g, params, "wm/"),
		solver: s,
		T:      T,
		B:      B,
	}

	stochSize := w.RSSM.StochasticSize()
	recurrentSize := w.RSSM.RecurrentSize()
	ch, h, wd := w.Encoder.ImageShape()
	zeros := func(name string, cols int) *G.Node {
		return network.Input(g, name, mat.NewDense(B, cols, nil))
	}

	stoch := zeros("stoch0", stochSize)
	recurrent := zeros("recurrent0", recurrentSize)
	var sums [5]*G.Node
	for t := 0; t < T; t++ {
		name := func(n string) string { return fmt.Sprintf("%v_%d", n, t) }

		var images, vectors *G.Node
		if ch > 0 {
			images = network.InputImages(g, name("images"),
				mat.NewDense(B, ch*h*wd, nil), ch, h, wd)
		}
		if size := w.Encoder.VectorSize(); size > 0 {
			vectors = zeros(name("vectors"), size)
		}
		action := zeros(name("action"), w.actionSize)
		keep := zeros(name("keep"), recurrentSize)
		keepStoch := zeros(name("keep_stoch"), stochSize)
		resetStoch := zeros(name("reset_stoch"), stochSize)
		residual := zeros(name("residual"), stochSize)
		rewards := zeros(name("rewards"), c.Bins)
		continues := zeros(name("continues"), 1)
		postProbsConst := zeros(name("post_probs"), stochSize)
		postLogitsConst := zeros(name("post_logits"), stochSize)
		priorLogitsConst := zeros(name("prior_logits"), stochSize)
		var above *G.Node
		if c.KLFreeNats > 0 {
			above = network.InputVec(g, name("above_free_nats"),
				make([]float64, B))
		}

		wg.images = append(wg.images, images)
		wg.vectors = append(wg.vectors, vectors)
		wg.actions = append(wg.actions, action)
		wg.keep = append(wg.keep, keep)
		wg.keepStoch = append(wg.keepStoch, keepStoch)
		wg.resetStoch = append(wg.resetStoch, resetStoch)
		wg.residuals = append(wg.residuals, residual)
		wg.rewards = append(wg.rewards, rewards)
		wg.continues = append(wg.continues, continues)
		wg.postProbs = append(wg.postProbs, postProbsConst)
		wg.postLogits = append(wg.postLogits, postLogitsConst)
		wg.priorLogit = append(wg.priorLogit, priorLogitsConst)
		wg.above = append(wg.above, above)

		// Episode boundaries: the recurrent state is zeroed and the
		// stochastic state is replaced by the initial prior mode
		recurrent = G.Must(G.HadamardProd(recurrent, keep))
		stoch = G.Must(G.HadamardProd(stoch, keepStoch))
		stoch = G.Must(G.Add(stoch, resetStoch))

		var err error
		recurrent, err = w.RSSM.RecurrentFwd(wg.binder, stoch, recurrent,
			action)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		_, priorLogits, err := w.RSSM.TransitionFwd(wg.binder, recurrent)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		embed, err := w.Encoder.Fwd(wg.binder, images, vectors)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		postProbs, postLogits, err := w.RSSM.RepresentationFwd(wg.binder,
			recurrent, embed)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		stoch = G.Must(G.Add(postProbs, residual))
		latent := G.Must(G.Concat(1, stoch, recurrent))

		obsLL, err := w.Decoder.LogProbNode(wg.binder, latent, images,
			vectors)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		rewardLogits, err := w.Reward.Fwd(wg.binder, latent)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		rewLL, err := w.Reward.dist.LogProbNode(rewardLogits, rewards)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		contLogits, err := w.Continue.Fwd(wg.binder, latent)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		contLL, err := w.Continue.dist.LogProbNode(contLogits, continues)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}

		// The dynamics term trains the prior toward a fixed posterior and
		// the representation term the posterior toward a fixed prior
		dyn, err := distributionKL(postProbsConst, postLogitsConst,
			priorLogits, above, c.KLFreeNats)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}
		rep, err := distributionKL(postProbs, postLogits, priorLogitsConst,
			above, c.KLFreeNats)
		if err != nil {
			return nil, fmt.Errorf("newWorldModelGraph: %v", err)
		}

		for i, term := range []*G.Node{obsLL, rewLL, contLL, dyn, rep} {
			term = G.Must(G.Sum(term))
			if sums[i] == nil {
				sums[i] = term
			} else {
				sums[i] = G.Must(G.Add(sums[i], term))
			}
		}
	}

	n := 1 / float64(T*B)
	for i := range sums {
		sums[i] = op.Scale(sums[i], n)
	}
	kl := G.Must(G.Add(op.Scale(sums[3], c.KLBalance),
		op.Scale(sums[4], 1-c.KLBalance)))
	loss := op.Scale(kl, c.KLRegularizer)
	for _, ll := range sums[:3] {
		loss = G.Must(G.Sub(loss, ll))
	}

	G.Read(loss, &wg.loss)
	G.Read(sums[0], &wg.obsLL)
	G.Read(sums[1], &wg.rewLL)
	G.Read(sums[2], &wg.contLL)
	G.Read(sums[3], &wg.dyn)
	G.Read(sums[4], &wg.rep)

	if _, err := G.Grad(loss, wg.binder.Learnables()...); err != nil {
		return nil, fmt.Errorf("newWorldModelGraph: could not compute "+
			"gradient: %v", err)
	}
	wg.vm = G.NewTapeMachine(g, G.BindDualValues(wg.binder.Learnables()...))
	return wg, nil
}

// distributionKL returns the per-sample KL divergence between two
// stochastic states, floored at freeNats. The above node holds 1 for
// samples whose KL exceeds freeNats and 0 otherwise; floored samples
// take the constant value freeNats and pass no gradient.
func distributionKL(probs, logP, logQ, above *G.Node,
	freeNats float64) (*G.Node, error) {
	kl, err := distribution.KLNode(probs, logP, logQ)
	if err != nil {
		return nil, err
	}
	if freeNats <= 0 || above == nil {
		return kl, nil
	}
	kl, err = G.HadamardProd(kl, above)
	if err != nil {
		return nil, err
	}
	floor := op.AddConst(op.Scale(above, -freeNats), freeNats)
	return G.Add(kl, floor)
}

// aboveFreeNats returns 1 for each KL divergence greater than freeNats
// and 0 for the rest
func aboveFreeNats(kl []float64, freeNats float64) []float64 {
	out := make([]float64, len(kl))
	for i, v := range kl {
		if v > freeNats {
			out[i] = 1
		}
	}
	return out
}

// train performs one gradient step on a batch. The returned
// Observation was computed with the parameters before the step.
func (wg *worldModelGraph) train(batch *expreplay.Batch,
	rng *rand.Rand) (*Observation, WorldModelLoss, error) {
	if batch.SequenceLength() != wg.T || batch.BatchSize() != wg.B {
		return nil, WorldModelLoss{}, fmt.Errorf("train: illegal batch "+
			"shape \n\twant(%v, %v)\n\thave(%v, %v)", wg.T, wg.B,
			batch.SequenceLength(), batch.BatchSize())
	}

	view := wg.binder.Params().View()
	obs, err := wg.wm.Observe(view, batch, rng)
	if err != nil {
		return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
	}
	_, initStoch := wg.wm.RSSM.InitialState(view, 1)

	recurrentSize := wg.wm.RSSM.RecurrentSize()
	stochSize := wg.wm.RSSM.StochasticSize()
	twoHot := wg.wm.Reward.dist
	for t := 0; t < wg.T; t++ {
		if floats.HasNaN(batch.Rewards[t]) {
			return nil, WorldModelLoss{}, fmt.Errorf("train: NaN reward "+
				"at step %v", t)
		}
		step := obs.Steps[t]
		keep := mat.NewDense(wg.B, recurrentSize, nil)
		keepStoch := mat.NewDense(wg.B, stochSize, nil)
		resetStoch := mat.NewDense(wg.B, stochSize, nil)
		action := mat.DenseCopyOf(batch.Actions[t])
		continues := mat.NewDense(wg.B, 1, nil)
		for i, first := range batch.IsFirst[t] {
			if first != 0 {
				zero(action.RawRowView(i))
				copy(resetStoch.RawRowView(i), initStoch.RawRowView(0))
			} else {
				fill(keep.RawRowView(i), 1)
				fill(keepStoch.RawRowView(i), 1)
			}
			continues.Set(i, 0, 1-batch.Terminals[t][i])
		}

		inputs := []struct {
			node  *G.Node
			value *mat.Dense
		}{
			{wg.actions[t], action},
			{wg.keep[t], keep},
			{wg.keepStoch[t], keepStoch},
			{wg.resetStoch[t], resetStoch},
			{wg.residuals[t], distribution.Residual(step.Posterior,
				step.PosteriorProbs)},
			{wg.rewards[t], twoHot.EncodeBatch(batch.Rewards[t])},
			{wg.continues[t], continues},
			{wg.postProbs[t], step.PosteriorProbs},
			{wg.postLogits[t], step.PosteriorLogits},
			{wg.priorLogit[t], step.PriorLogits},
			{wg.vectors[t], obs.Vectors[t]},
		}
		for _, in := range inputs {
			if in.node == nil {
				continue
			}
			if err := network.SetInput(in.node, in.value); err != nil {
				return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
			}
		}
		if wg.above[t] != nil {
			kl := distribution.KL(step.PosteriorProbs, step.PosteriorLogits,
				step.PriorLogits)
			above := aboveFreeNats(kl, wg.c.KLFreeNats)
			if err := network.SetInputVec(wg.above[t], above); err != nil {
				return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
			}
		}
		if wg.images[t] != nil {
			err := network.SetInputImages(wg.images[t], obs.Images[t])
			if err != nil {
				return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
			}
		}
	}

	if err := wg.binder.Load(); err != nil {
		return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
	}
	defer wg.vm.Reset()
	if err := wg.vm.RunAll(); err != nil {
		return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
	}
	if err := wg.solver.Step(wg.binder.Model()); err != nil {
		return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
	}
	if err := wg.binder.Store(); err != nil {
		return nil, WorldModelLoss{}, fmt.Errorf("train: %v", err)
	}

	loss := WorldModelLoss{
		Total:            scalar(wg.loss),
		Observation:      -scalar(wg.obsLL),
		Reward:           -scalar(wg.rewLL),
		Continue:         -scalar(wg.contLL),
		KLDynamics:       scalar(wg.dyn),
		KLRepresentation: scalar(wg.rep),
	}
	return obs, loss, nil
}

func fill(row []float64, v float64) {
	for j := range row {
		row[j] = v
	}
}

// scalar returns the value of a scalar graph value
func scalar(v G.Value) float64 {
	if v == nil {
		return 0
	}
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	}
	if t, ok := v.(tensor.Tensor); ok {
		return t.Data().([]float64)[0]
	}
	panic(fmt.Sprintf("scalar: unexpected value %v", v))
}
