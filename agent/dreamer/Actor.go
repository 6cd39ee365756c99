package dreamer

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/distribution"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// tanhNormalScale bounds the mean of a tanh normal actor
const tanhNormalScale = 5.0

// Variant determines whether an Actor masks its discrete heads
type Variant int

const (
	Plain Variant = iota
	Masked
)

func (v Variant) String() string {
	if v == Masked {
		return "masked"
	}
	return "plain"
}

// Actor maps latent states to a distribution over actions. Discrete
// action spaces have one unimix categorical per action head; continuous
// action spaces have a single normal, tanh normal or truncated normal
// distribution over all dimensions.
type Actor struct {
	dist    ActorDist
	variant Variant
	masker  ActionMasker

	heads         []int
	initStd       float64
	minStd        float64
	greedySamples int

	mlp     *network.MLP
	logits  []*network.FC
	oneHots []*distribution.OneHot
	mean    *network.FC
	std     *network.FC
	trunc   *distribution.TruncatedNormal
}

// NewActor returns a new Actor for the given action specification. A
// non-nil masker makes the Actor Masked.
func NewActor(c *Config, spec env.Spec, masker ActionMasker) (*Actor,
	error) {
	continuous := spec.Cardinality == env.Continuous
	dist, err := c.ResolveActorDist(continuous)
	if err != nil {
		return nil, err
	}
	if masker != nil && continuous {
		return nil, &ConfigError{"masker", "masking requires a discrete " +
			"action space"}
	}

	init := weightInit(c)
	mlp, err := network.NewMLP("actor", c.latentSize(), c.DenseUnits,
		c.MLPLayers, c.LayerNorm, c.activation(), init)
	if err != nil {
		return nil, fmt.Errorf("newActor: %v", err)
	}
	a := &Actor{
		dist:          dist,
		masker:        masker,
		initStd:       c.ActorInitStd,
		minStd:        c.ActorMinStd,
		greedySamples: c.GreedySamples,
		mlp:           mlp,
	}
	if masker != nil {
		a.variant = Masked
	}

	if !continuous {
		a.heads = spec.ActionHeads()
		for i, k := range a.heads {
			fc, err := network.NewFC(fmt.Sprintf("actor/head/%d", i),
				mlp.OutputDim(), k, true, init)
			if err != nil {
				return nil, fmt.Errorf("newActor: %v", err)
			}
			oneHot, err := distribution.NewOneHot(k, c.Unimix)
			if err != nil {
				return nil, fmt.Errorf("newActor: %v", err)
			}
			a.logits = append(a.logits, fc)
			a.oneHots = append(a.oneHots, oneHot)
		}
		return a, nil
	}

	dims := spec.Shape.Len()
	a.heads = []int{dims}
	if a.mean, err = network.NewFC("actor/mean", mlp.OutputDim(), dims, true,
		init); err != nil {
		return nil, fmt.Errorf("newActor: %v", err)
	}
	if a.std, err = network.NewFC("actor/std", mlp.OutputDim(), dims, true,
		init); err != nil {
		return nil, fmt.Errorf("newActor: %v", err)
	}
	a.trunc, _ = distribution.NewTruncatedNormal(-1, 1)
	return a, nil
}

// Init registers the parameters of the Actor
func (a *Actor) Init(p *network.Params) error {
	if err := a.mlp.Init(p); err != nil {
		return err
	}
	for _, fc := range a.logits {
		if err := fc.Init(p); err != nil {
			return err
		}
	}
	if a.Continuous() {
		if err := a.mean.Init(p); err != nil {
			return err
		}
		return a.std.Init(p)
	}
	return nil
}

// Continuous returns whether the Actor acts in a continuous space
func (a *Actor) Continuous() bool {
	return a.dist != Discrete
}

// Dist returns the distribution kind of the Actor
func (a *Actor) Dist() ActorDist {
	return a.dist
}

// Variant returns whether the Actor masks its heads
func (a *Actor) Variant() Variant {
	return a.variant
}

// Heads returns the number of classes of each discrete head, or the
// number of action dimensions for a continuous Actor
func (a *Actor) Heads() []int {
	return a.heads
}

// ActionSize returns the size of an action: the summed classes of all
// heads or the number of action dimensions
func (a *Actor) ActionSize() int {
	var size int
	for _, h := range a.heads {
		size += h
	}
	return size
}

// Action is a batch of actions sampled from an Actor along with the
// distribution they were sampled from
type Action struct {
	// Value holds one action per row: the concatenated one-hot heads of
	// a discrete Actor or the action vector of a continuous one
	Value *mat.Dense

	// Discrete heads
	Heads    []*mat.Dense
	Probs    []*mat.Dense
	LogProbs []*mat.Dense

	// Continuous distribution and the standard noise of the sample
	Mean, Std *mat.Dense
	Noise     *mat.Dense
}

// Act samples actions for a batch of latent states. Greedy actions are
// the modes of discrete heads and the most likely of several samples
// of continuous distributions. A Masked Actor restricts each head by
// masks, which may be nil.
func (a *Actor) Act(v network.View, latent *mat.Dense,
	masks map[string]*mat.Dense, rng *rand.Rand, greedy bool) *Action {
	features := a.mlp.Forward(v, latent)
	if a.Continuous() {
		return a.actContinuous(v, features, rng, greedy)
	}

	act := &Action{}
	for i, fc := range a.logits {
		probs, logProbs := a.oneHots[i].Probs(fc.Forward(v, features))
		if a.variant == Masked && masks != nil {
			if allowed := a.masker.Allowed(i, act.Heads, masks); allowed != nil {
				applyMask(probs, logProbs, allowed)
			}
		}

		var sample *mat.Dense
		if greedy {
			sample = a.oneHots[i].Mode(probs)
		} else {
			sample = a.oneHots[i].Sample(probs, rng)
		}
		act.Heads = append(act.Heads, sample)
		act.Probs = append(act.Probs, probs)
		act.LogProbs = append(act.LogProbs, logProbs)
	}
	act.Value = matutils.HStack(act.Heads...)
	return act
}

// applyMask removes the probability of disallowed classes and
// renormalizes. Disallowed classes have log-probability -∞. Rows that
// allow no class at all are left unchanged.
func applyMask(probs, logProbs, allowed *mat.Dense) {
	r, c := probs.Dims()
	if ar, ac := allowed.Dims(); ar != r || ac != c {
		panic(fmt.Sprintf("applyMask: illegal mask shape \n\twant(%v, %v)"+
			"\n\thave(%v, %v)", r, c, ar, ac))
	}
	for i := 0; i < r; i++ {
		p, lp, ok := probs.RawRowView(i), logProbs.RawRowView(i),
			allowed.RawRowView(i)
		var total float64
		for j := range p {
			if ok[j] != 0 {
				total += p[j]
			}
		}
		if total == 0 {
			continue
		}
		for j := range p {
			if ok[j] != 0 {
				p[j] /= total
				lp[j] = math.Log(p[j])
			} else {
				p[j] = 0
				lp[j] = math.Inf(-1)
			}
		}
	}
}

// distParams transforms raw network outputs into the mean and standard
// deviation of the continuous distribution
func (a *Actor) distParams(mean, std *mat.Dense) (*mat.Dense, *mat.Dense) {
	switch a.dist {
	case NormalDist:
		std = matutils.Apply(std, func(s float64) float64 {
			return floatutils.Softplus(s) + a.minStd
		})
	case TanhNormal:
		mean = matutils.Apply(mean, func(m float64) float64 {
			return tanhNormalScale * math.Tanh(m/tanhNormalScale)
		})
		std = matutils.Apply(std, func(s float64) float64 {
			return floatutils.Softplus(s+a.initStd) + a.minStd
		})
	case TruncNormal:
		mean = matutils.Apply(mean, math.Tanh)
		std = matutils.Apply(std, func(s float64) float64 {
			return 2*floatutils.Sigmoid((s+a.initStd)/2) + a.minStd
		})
	}
	return mean, std
}

func (a *Actor) sampleContinuous(mean, std *mat.Dense,
	rng *rand.Rand) (sample, noise *mat.Dense) {
	switch a.dist {
	case NormalDist:
		return distribution.Normal{}.Sample(mean, std, rng)
	case TanhNormal:
		return distribution.TanhNormal{}.Sample(mean, std, rng)
	default:
		return a.trunc.Sample(mean, std, rng)
	}
}

func (a *Actor) actContinuous(v network.View, features *mat.Dense,
	rng *rand.Rand, greedy bool) *Action {
	mean, std := a.distParams(a.mean.Forward(v, features),
		a.std.Forward(v, features))
	act := &Action{Mean: mean, Std: std}
	act.Value, act.Noise = a.sampleContinuous(mean, std, rng)
	if !greedy {
		return act
	}

	// The mode has no closed form for every distribution, so the most
	// likely of several samples stands in for it
	best := a.LogProb(act)
	for k := 1; k < a.greedySamples; k++ {
		cand := &Action{Mean: mean, Std: std}
		cand.Value, cand.Noise = a.sampleContinuous(mean, std, rng)
		for i, ll := range a.LogProb(cand) {
			if ll > best[i] {
				best[i] = ll
				act.Value.SetRow(i, cand.Value.RawRowView(i))
				act.Noise.SetRow(i, cand.Noise.RawRowView(i))
			}
		}
	}
	return act
}

// LogProb returns the log-probability of each action under the
// distribution it was sampled from
func (a *Actor) LogProb(act *Action) []float64 {
	switch a.dist {
	case Discrete:
		r, _ := act.Value.Dims()
		out := make([]float64, r)
		for i, oneHot := range a.oneHots {
			for j, ll := range oneHot.LogProb(act.LogProbs[i], act.Heads[i]) {
				out[j] += ll
			}
		}
		return out
	case NormalDist:
		return distribution.Normal{}.LogProb(act.Mean, act.Std, act.Value)
	case TanhNormal:
		return distribution.TanhNormal{}.LogProb(act.Mean, act.Std,
			act.Value)
	default:
		return a.trunc.LogProb(act.Mean, act.Std, act.Value)
	}
}

// Entropy returns the entropy of the distribution of each action. The
// tanh normal has no closed form and uses a one-sample estimate.
func (a *Actor) Entropy(act *Action) []float64 {
	switch a.dist {
	case Discrete:
		r, _ := act.Value.Dims()
		out := make([]float64, r)
		for i, oneHot := range a.oneHots {
			for j, ent := range oneHot.Entropy(act.Probs[i], act.LogProbs[i]) {
				out[j] += ent
			}
		}
		return out
	case NormalDist:
		return distribution.Normal{}.Entropy(act.Std)
	case TanhNormal:
		out := a.LogProb(act)
		for i := range out {
			out[i] = -out[i]
		}
		return out
	default:
		return a.trunc.Entropy(act.Mean, act.Std)
	}
}

// policyNodes holds the distribution of an Actor in a graph
type policyNodes struct {
	probs, logProbs []*G.Node
	mean, std       *G.Node
}

// policyFwd adds the action distribution of latent states to a graph.
// Masks are never applied in graphs.
func (a *Actor) policyFwd(b *network.Binder,
	latent *G.Node) (*policyNodes, error) {
	features, err := a.mlp.Fwd(b, latent)
	if err != nil {
		return nil, fmt.Errorf("policyFwd: %v", err)
	}

	p := &policyNodes{}
	if !a.Continuous() {
		for i, fc := range a.logits {
			logits, err := fc.Fwd(b, features)
			if err != nil {
				return nil, fmt.Errorf("policyFwd: %v", err)
			}
			probs, logProbs, err := a.oneHots[i].ProbsNode(logits)
			if err != nil {
				return nil, fmt.Errorf("policyFwd: %v", err)
			}
			p.probs = append(p.probs, probs)
			p.logProbs = append(p.logProbs, logProbs)
		}
		return p, nil
	}

	mean, err := a.mean.Fwd(b, features)
	if err != nil {
		return nil, fmt.Errorf("policyFwd: %v", err)
	}
	std, err := a.std.Fwd(b, features)
	if err != nil {
		return nil, fmt.Errorf("policyFwd: %v", err)
	}
	switch a.dist {
	case NormalDist:
		std = op.AddConst(op.Softplus(std), a.minStd)
	case TanhNormal:
		mean = op.Scale(G.Must(G.Tanh(op.Scale(mean, 1/tanhNormalScale))),
			tanhNormalScale)
		std = op.AddConst(op.Softplus(op.AddConst(std, a.initStd)), a.minStd)
	case TruncNormal:
		mean = G.Must(G.Tanh(mean))
		std = G.Must(G.Sigmoid(op.Scale(op.AddConst(std, a.initStd), 0.5)))
		std = op.AddConst(op.Scale(std, 2), a.minStd)
	}
	p.mean, p.std = mean, std
	return p, nil
}

// actionInputs holds constant graph inputs describing sampled actions:
// the one-hot heads of a discrete Actor, or the action and its
// pre-tanh value for a continuous one
type actionInputs struct {
	heads  []*G.Node
	action *G.Node
	pre    *G.Node
}

// newActionInputs adds zero-valued action inputs for a batch of size n
// to g
func (a *Actor) newActionInputs(g *G.ExprGraph, prefix string,
	n int) *actionInputs {
	in := &actionInputs{}
	if !a.Continuous() {
		for i, k := range a.heads {
			in.heads = append(in.heads, network.Input(g,
				fmt.Sprintf("%v_head_%d", prefix, i), mat.NewDense(n, k, nil)))
		}
		return in
	}
	in.action = network.Input(g, prefix+"_action",
		mat.NewDense(n, a.heads[0], nil))
	if a.dist == TanhNormal {
		in.pre = network.Input(g, prefix+"_pre",
			mat.NewDense(n, a.heads[0], nil))
	}
	return in
}

// set replaces the values of the action inputs with a batch of actions
func (a *Actor) setActionInputs(in *actionInputs, heads []*mat.Dense,
	action *mat.Dense) error {
	for i, node := range in.heads {
		if err := network.SetInput(node, heads[i]); err != nil {
			return err
		}
	}
	if in.action != nil {
		if err := network.SetInput(in.action, action); err != nil {
			return err
		}
	}
	if in.pre != nil {
		pre := distribution.TanhNormal{}.PreTanh(action)
		if err := network.SetInput(in.pre, pre); err != nil {
			return err
		}
	}
	return nil
}

// logProbNode adds the log-probability of constant actions to a graph
func (a *Actor) logProbNode(p *policyNodes, in *actionInputs) (*G.Node,
	error) {
	switch a.dist {
	case Discrete:
		var total *G.Node
		for i, oneHot := range a.oneHots {
			ll, err := oneHot.LogProbNode(p.logProbs[i], in.heads[i])
			if err != nil {
				return nil, err
			}
			if total == nil {
				total = ll
			} else {
				total = G.Must(G.Add(total, ll))
			}
		}
		return total, nil
	case NormalDist:
		return distribution.Normal{}.LogProbNode(p.mean, p.std, in.action), nil
	case TanhNormal:
		return distribution.TanhNormal{}.LogProbNode(p.mean, p.std, in.pre,
			in.action)
	default:
		return a.trunc.LogProbNode(p.mean, p.std, in.action)
	}
}

// entropyNode adds the entropy of the policy to a graph. The tanh
// normal uses the negative log-probability of the constant actions.
func (a *Actor) entropyNode(p *policyNodes, in *actionInputs) (*G.Node,
	error) {
	switch a.dist {
	case Discrete:
		var total *G.Node
		for i := range a.oneHots {
			ent, err := distribution.EntropyNode(p.probs[i], p.logProbs[i])
			if err != nil {
				return nil, err
			}
			if total == nil {
				total = ent
			} else {
				total = G.Must(G.Add(total, ent))
			}
		}
		return total, nil
	case NormalDist:
		return distribution.Normal{}.EntropyNode(p.std)
	case TanhNormal:
		ll, err := a.logProbNode(p, in)
		if err != nil {
			return nil, err
		}
		return G.Neg(ll)
	default:
		return a.trunc.EntropyNode(p.mean, p.std)
	}
}

// sampleNode adds a reparameterized sample to a graph. For discrete
// heads the residuals turn probabilities into straight-through one-hot
// samples; for continuous distributions they hold the standard noise.
func (a *Actor) sampleNode(p *policyNodes, residuals []*G.Node) (*G.Node,
	error) {
	switch a.dist {
	case Discrete:
		heads := make(G.Nodes, len(p.probs))
		for i, probs := range p.probs {
			h, err := distribution.StraightThrough(probs, residuals[i])
			if err != nil {
				return nil, err
			}
			heads[i] = h
		}
		if len(heads) == 1 {
			return heads[0], nil
		}
		return G.Concat(1, heads...)
	case NormalDist:
		return G.Add(p.mean, G.Must(G.HadamardProd(p.std, residuals[0])))
	case TanhNormal:
		return distribution.TanhNormal{}.SampleNode(p.mean, p.std,
			residuals[0])
	default:
		return a.trunc.SampleNode(p.mean, p.std, residuals[0], nil)
	}
}

// residuals returns the constants that reproduce act in sampleNode
func (a *Actor) residuals(act *Action) []*mat.Dense {
	if !a.Continuous() {
		out := make([]*mat.Dense, len(act.Heads))
		for i := range act.Heads {
			out[i] = distribution.Residual(act.Heads[i], act.Probs[i])
		}
		return out
	}
	return []*mat.Dense{act.Noise}
}

// residualSizes returns the column count of each residual
func (a *Actor) residualSizes() []int {
	return a.heads
}
