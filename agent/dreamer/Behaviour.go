package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/returns"
	"github.com/samuelfneumann/godreamer/solver"
	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Trajectory is a batch of latent trajectories imagined by the world
// model under the actor. Step t of every field holds one row (or
// entry) per starting state.
type Trajectory struct {
	// Latent states 0, ..., H
	Stoch     []*mat.Dense
	Recurrent []*mat.Dense
	Latents   []*mat.Dense

	// Actions 0, ..., H-1; action t leads from latent t to latent t+1
	Actions []*Action

	// The prior sample of latent t+1 and its probabilities
	Priors     []*mat.Dense
	PriorProbs []*mat.Dense

	// Rewards and discounts γ·continue predicted for latent t+1
	Rewards   [][]float64
	Discounts [][]float64
}

// Horizon returns the number of imagined steps
func (t *Trajectory) Horizon() int {
	return len(t.Actions)
}

// Imagine rolls the world model forward for horizon steps from a batch
// of starting states, sampling actions from the actor and next states
// from the prior. Masks are never applied in imagination.
func Imagine(wm *WorldModel, actor *Actor, wmView, actorView network.View,
	stoch, recurrent *mat.Dense, horizon int, gamma float64,
	rng *rand.Rand) *Trajectory {
	traj := &Trajectory{
		Stoch:     []*mat.Dense{stoch},
		Recurrent: []*mat.Dense{recurrent},
		Latents:   []*mat.Dense{Latent(stoch, recurrent)},
	}
	for t := 0; t < horizon; t++ {
		act := actor.Act(actorView, traj.Latents[t], nil, rng, false)
		next := wm.RSSM.Recurrent(wmView, stoch, recurrent, act.Value)
		probs, _ := wm.RSSM.Transition(wmView, next)
		prior := wm.RSSM.sample(probs, rng, true)
		latent := Latent(prior, next)

		discounts := wm.Continue.Predict(wmView, latent)
		floats.Scale(gamma, discounts)

		traj.Actions = append(traj.Actions, act)
		traj.Priors = append(traj.Priors, prior)
		traj.PriorProbs = append(traj.PriorProbs, probs)
		traj.Stoch = append(traj.Stoch, prior)
		traj.Recurrent = append(traj.Recurrent, next)
		traj.Latents = append(traj.Latents, latent)
		traj.Rewards = append(traj.Rewards, wm.Reward.Predict(wmView, latent))
		traj.Discounts = append(traj.Discounts, discounts)
		stoch, recurrent = prior, next
	}
	return traj
}

// BehaviourLoss holds the losses and statistics of one behaviour step
type BehaviourLoss struct {
	Actor       float64
	Critic      float64
	Entropy     float64
	Return      float64
	Value       float64
	ReturnScale float64
}

// Behaviour learns the actor and critic from imagined trajectories
// that start at the posteriors of a replayed batch. Returns are
// λ-returns bootstrapped from the target critic and normalized by the
// spread of their percentiles.
type Behaviour struct {
	c      *Config
	wm     *WorldModel
	actor  *Actor
	critic *Critic

	wmParams, actorParams, criticParams, targetParams *network.Params
	actorSolver, criticSolver                         *solver.Solver

	moments *returns.Moments
	actorG  *actorGraph
	criticG *criticGraph
}

// NewBehaviour returns a new Behaviour that trains actorParams and
// criticParams
func NewBehaviour(c *Config, wm *WorldModel, actor *Actor, critic *Critic,
	wmParams, actorParams, criticParams, targetParams *network.Params,
	actorSolver, criticSolver *solver.Solver) *Behaviour {
	return &Behaviour{
		c:            c,
		wm:           wm,
		actor:        actor,
		critic:       critic,
		wmParams:     wmParams,
		actorParams:  actorParams,
		criticParams: criticParams,
		targetParams: targetParams,
		actorSolver:  actorSolver,
		criticSolver: criticSolver,
		moments: returns.NewMoments(c.MomentsDecay, c.MomentsMax,
			c.MomentsPercLow, c.MomentsPercHigh),
	}
}

// Moments returns the return normalizer
func (b *Behaviour) Moments() *returns.Moments {
	return b.moments
}

// targets holds the regression and policy-gradient targets of a
// trajectory, one entry per imagined step and starting state
type targets struct {
	returns [][]float64
	values  [][]float64
	weights [][]float64
	adv     [][]float64
	offset  float64
	scale   float64
	meanRet float64
	meanVal float64
	horizon int
	starts  int
}

// targets computes λ-returns, weights and normalized advantages. The
// λ-returns bootstrap from the target critic while the advantage
// baseline is the value of the online critic. The weight of step t is
// the probability of the episode still running at latent t, starting
// from the true continuation flag of the start.
func (b *Behaviour) targets(traj *Trajectory, online, target network.View,
	cont0 []float64) (*targets, error) {
	H := traj.Horizon()
	values := make([][]float64, H+1)
	for t := range values {
		values[t] = b.critic.Value(target, traj.Latents[t])
	}
	rets, err := returns.Lambda(traj.Rewards, traj.Discounts, values[1:],
		b.c.Lambda)
	if err != nil {
		return nil, fmt.Errorf("targets: %v", err)
	}

	weights := returns.Weights(traj.Discounts)[:H]
	for t := range weights {
		floats.Mul(weights[t], cont0)
	}

	flat := make([]float64, 0, H*len(cont0))
	for _, r := range rets {
		flat = append(flat, r...)
	}
	offset, scale := b.moments.Update(flat)

	adv := make([][]float64, H)
	var sumVal float64
	for t := range adv {
		baseline := b.critic.Value(online, traj.Latents[t])
		adv[t] = make([]float64, len(cont0))
		for i := range adv[t] {
			adv[t][i] = (rets[t][i] - baseline[i]) / scale
		}
		sumVal += floats.Sum(values[t])
	}

	return &targets{
		returns: rets,
		values:  values,
		weights: weights,
		adv:     adv,
		offset:  offset,
		scale:   scale,
		meanRet: floats.Sum(flat) / float64(len(flat)),
		meanVal: sumVal / float64(len(flat)),
		horizon: H,
		starts:  len(cont0),
	}, nil
}

// starts flattens the posteriors of an Observation into starting
// states, step-major, with the true continuation flag of each
func starts(obs *Observation, terminals [][]float64) (stoch,
	recurrent *mat.Dense, cont []float64) {
	var posts, recs []*mat.Dense
	for t, step := range obs.Steps {
		posts = append(posts, step.Posterior)
		recs = append(recs, step.Recurrent)
		for _, term := range terminals[t] {
			cont = append(cont, 1-term)
		}
	}
	return vstack(posts), vstack(recs), cont
}

// vstack stacks matrices with equal column counts vertically
func vstack(ms []*mat.Dense) *mat.Dense {
	var rows, cols int
	for _, m := range ms {
		r, c := m.Dims()
		rows += r
		cols = c
	}
	out := mat.NewDense(rows, cols, nil)
	var at int
	for _, m := range ms {
		r, _ := m.Dims()
		out.Slice(at, at+r, 0, cols).(*mat.Dense).Copy(m)
		at += r
	}
	return out
}

func flatten(x [][]float64) []float64 {
	var out []float64
	for _, row := range x {
		out = append(out, row...)
	}
	return out
}

// train performs one actor and one critic step on trajectories that
// start from the posteriors of obs
func (b *Behaviour) train(obs *Observation, terminals [][]float64,
	rng *rand.Rand) (BehaviourLoss, error) {
	stoch, recurrent, cont0 := starts(obs, terminals)
	wmView := b.wmParams.View()
	traj := Imagine(b.wm, b.actor, wmView, b.actorParams.View(), stoch,
		recurrent, b.c.Horizon, b.c.Gamma, rng)
	tgt, err := b.targets(traj, b.criticParams.View(),
		b.targetParams.View(), cont0)
	if err != nil {
		return BehaviourLoss{}, fmt.Errorf("train: %v", err)
	}

	if b.actorG == nil {
		if b.actorG, err = newActorGraph(b, tgt.horizon, tgt.starts); err != nil {
			return BehaviourLoss{}, fmt.Errorf("train: %v", err)
		}
		if b.criticG, err = newCriticGraph(b, tgt.horizon*tgt.starts); err != nil {
			return BehaviourLoss{}, fmt.Errorf("train: %v", err)
		}
	}

	actorLoss, entropy, err := b.actorG.train(traj, tgt)
	if err != nil {
		return BehaviourLoss{}, fmt.Errorf("train: %v", err)
	}
	criticLoss, err := b.criticG.train(traj, tgt)
	if err != nil {
		return BehaviourLoss{}, fmt.Errorf("train: %v", err)
	}

	return BehaviourLoss{
		Actor:       actorLoss,
		Critic:      criticLoss,
		Entropy:     entropy,
		Return:      tgt.meanRet,
		Value:       tgt.meanVal,
		ReturnScale: tgt.scale,
	}, nil
}

// actorGraph computes the actor loss
//
//	-Σ w·[m·log π(a|s)·adv + (1-m)·G/scale + η·H(π(·|s))] / N
//
// The policy-gradient and entropy terms are evaluated on the imagined
// states stacked into one batch of N = H·n rows. When m < 1 the
// imagination is also unrolled in the graph so that λ-returns can be
// differentiated through the world model and the target critic. The
// unrolled graph reproduces the numeric rollout exactly: its samples
// are straight-through estimates built from the numeric samples.
type actorGraph struct {
	b      *Behaviour
	binder *network.Binder
	wm     *network.Binder
	target *network.Binder
	vm     G.VM

	H, n int

	latents *G.Node
	actions *actionInputs
	adv     *G.Node
	weights *G.Node

	dynamics       bool
	stoch, rec     *G.Node
	actResiduals   [][]*G.Node
	priorResiduals []*G.Node
	discounts      []*G.Node
	dynWeights     []*G.Node

	loss, entropy G.Value
}

func newActorGraph(b *Behaviour, H, n int) (*actorGraph, error) {
	g := G.NewGraph()
	ag := &actorGraph{
		b:        b,
		binder:   network.NewBinder(g, b.actorParams, ""),
		H:        H,
		n:        n,
		dynamics: b.c.ObjectiveMix < 1,
	}
	N := H * n
	actor := b.actor

	ag.latents = network.Input(g, "latents", mat.NewDense(N,
		b.c.latentSize(), nil))
	ag.actions = actor.newActionInputs(g, "actions", N)
	ag.adv = network.InputVec(g, "advantages", make([]float64, N))
	ag.weights = network.InputVec(g, "weights", make([]float64, N))

	p, err := actor.policyFwd(ag.binder, ag.latents)
	if err != nil {
		return nil, fmt.Errorf("newActorGraph: %v", err)
	}
	ll, err := actor.logProbNode(p, ag.actions)
	if err != nil {
		return nil, fmt.Errorf("newActorGraph: %v", err)
	}
	ent, err := actor.entropyNode(p, ag.actions)
	if err != nil {
		return nil, fmt.Errorf("newActorGraph: %v", err)
	}

	objective := op.Scale(ent, b.c.ActorEnt)
	if m := b.c.ObjectiveMix; m > 0 {
		pg := op.Scale(G.Must(G.HadamardProd(ll, ag.adv)), m)
		objective = G.Must(G.Add(objective, pg))
	}
	objective = G.Must(G.Sum(G.Must(G.HadamardProd(objective, ag.weights))))
	loss := op.Scale(objective, -1/float64(N))

	if ag.dynamics {
		ret, err := ag.unroll(g)
		if err != nil {
			return nil, fmt.Errorf("newActorGraph: %v", err)
		}
		loss = G.Must(G.Sub(loss, op.Scale(ret, (1-b.c.ObjectiveMix)/
			float64(N))))
	}

	G.Read(loss, &ag.loss)
	G.Read(op.Scale(G.Must(G.Sum(ent)), 1/float64(N)), &ag.entropy)

	if _, err := G.Grad(loss, ag.binder.Learnables()...); err != nil {
		return nil, fmt.Errorf("newActorGraph: could not compute "+
			"gradient: %v", err)
	}
	ag.vm = G.NewTapeMachine(g, G.BindDualValues(ag.binder.Learnables()...))
	return ag, nil
}

// unroll adds the differentiable imagination to the graph and returns
// Σ_t Σ_i w_t,i·G_t,i / scale
func (ag *actorGraph) unroll(g *G.ExprGraph) (*G.Node, error) {
	b := ag.b
	ag.wm = network.NewBinder(g, b.wmParams, "wm/")
	ag.target = network.NewBinder(g, b.targetParams, "target/")
	stochSize := b.wm.RSSM.StochasticSize()

	ag.stoch = network.Input(g, "stoch0", mat.NewDense(ag.n, stochSize, nil))
	ag.rec = network.Input(g, "recurrent0", mat.NewDense(ag.n,
		b.wm.RSSM.RecurrentSize(), nil))

	stoch, rec := ag.stoch, ag.rec
	rewards := make([]*G.Node, ag.H)
	values := make([]*G.Node, ag.H)
	for t := 0; t < ag.H; t++ {
		name := func(n string) string { return fmt.Sprintf("%v_%d", n, t) }
		latent := G.Must(G.Concat(1, stoch, rec))
		p, err := b.actor.policyFwd(ag.binder, latent)
		if err != nil {
			return nil, err
		}

		var residuals []*G.Node
		for i, size := range b.actor.residualSizes() {
			residuals = append(residuals, network.Input(g,
				name(fmt.Sprintf("act_residual_%d", i)),
				mat.NewDense(ag.n, size, nil)))
		}
		action, err := b.actor.sampleNode(p, residuals)
		if err != nil {
			return nil, err
		}

		rec, err = b.wm.RSSM.RecurrentFwd(ag.wm, stoch, rec, action)
		if err != nil {
			return nil, err
		}
		probs, _, err := b.wm.RSSM.TransitionFwd(ag.wm, rec)
		if err != nil {
			return nil, err
		}
		priorResidual := network.Input(g, name("prior_residual"),
			mat.NewDense(ag.n, stochSize, nil))
		stoch, err = distribution.StraightThrough(probs, priorResidual)
		if err != nil {
			return nil, err
		}
		latent = G.Must(G.Concat(1, stoch, rec))

		rewardLogits, err := b.wm.Reward.Fwd(ag.wm, latent)
		if err != nil {
			return nil, err
		}
		if rewards[t], err = b.wm.Reward.dist.MeanNode(rewardLogits); err != nil {
			return nil, err
		}
		if values[t], err = b.critic.ValueNode(ag.target, latent); err != nil {
			return nil, err
		}

		ag.actResiduals = append(ag.actResiduals, residuals)
		ag.priorResiduals = append(ag.priorResiduals, priorResidual)
		ag.discounts = append(ag.discounts, network.InputVec(g,
			name("discounts"), make([]float64, ag.n)))
		ag.dynWeights = append(ag.dynWeights, network.InputVec(g,
			name("dyn_weights"), make([]float64, ag.n)))
	}

	// λ-returns, computed backward from the last bootstrap value
	lambda := b.c.Lambda
	last := ag.H - 1
	ret := G.Must(G.Add(rewards[last],
		G.Must(G.HadamardProd(ag.discounts[last], values[last]))))
	total := G.Must(G.Sum(G.Must(G.HadamardProd(ag.dynWeights[last], ret))))
	for t := last - 1; t >= 0; t-- {
		boot := G.Must(G.Add(op.Scale(values[t], 1-lambda),
			op.Scale(ret, lambda)))
		ret = G.Must(G.Add(rewards[t],
			G.Must(G.HadamardProd(ag.discounts[t], boot))))
		total = G.Must(G.Add(total,
			G.Must(G.Sum(G.Must(G.HadamardProd(ag.dynWeights[t], ret))))))
	}
	return total, nil
}

// train performs one actor step, returning the loss and mean entropy
func (ag *actorGraph) train(traj *Trajectory, tgt *targets) (float64,
	float64, error) {
	actor := ag.b.actor
	if traj.Horizon() != ag.H || tgt.starts != ag.n {
		return 0, 0, fmt.Errorf("train: illegal trajectory shape "+
			"\n\twant(%v, %v)\n\thave(%v, %v)", ag.H, ag.n, traj.Horizon(),
			tgt.starts)
	}

	values := make([]*mat.Dense, ag.H)
	for t, act := range traj.Actions {
		values[t] = act.Value
	}
	var heads []*mat.Dense
	if !actor.Continuous() {
		heads = make([]*mat.Dense, len(actor.Heads()))
		for i := range heads {
			stack := make([]*mat.Dense, ag.H)
			for t, act := range traj.Actions {
				stack[t] = act.Heads[i]
			}
			heads[i] = vstack(stack)
		}
	}
	if err := network.SetInput(ag.latents, vstack(traj.Latents[:ag.H])); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	if err := actor.setActionInputs(ag.actions, heads, vstack(values)); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	if err := network.SetInputVec(ag.adv, flatten(tgt.adv)); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	if err := network.SetInputVec(ag.weights, flatten(tgt.weights)); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}

	if ag.dynamics {
		if err := ag.setDynamics(traj, tgt); err != nil {
			return 0, 0, fmt.Errorf("train: %v", err)
		}
	}

	for _, binder := range []*network.Binder{ag.binder, ag.wm, ag.target} {
		if binder == nil {
			continue
		}
		if err := binder.Load(); err != nil {
			return 0, 0, fmt.Errorf("train: %v", err)
		}
	}
	defer ag.vm.Reset()
	if err := ag.vm.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	if err := ag.b.actorSolver.Step(ag.binder.Model()); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	if err := ag.binder.Store(); err != nil {
		return 0, 0, fmt.Errorf("train: %v", err)
	}
	return scalar(ag.loss), scalar(ag.entropy), nil
}

func (ag *actorGraph) setDynamics(traj *Trajectory, tgt *targets) error {
	if err := network.SetInput(ag.stoch, traj.Stoch[0]); err != nil {
		return err
	}
	if err := network.SetInput(ag.rec, traj.Recurrent[0]); err != nil {
		return err
	}
	for t := 0; t < ag.H; t++ {
		for i, r := range ag.b.actor.residuals(traj.Actions[t]) {
			if err := network.SetInput(ag.actResiduals[t][i], r); err != nil {
				return err
			}
		}
		residual := distribution.Residual(traj.Priors[t], traj.PriorProbs[t])
		if err := network.SetInput(ag.priorResiduals[t], residual); err != nil {
			return err
		}
		if err := network.SetInputVec(ag.discounts[t], traj.Discounts[t]); err != nil {
			return err
		}
		w := make([]float64, ag.n)
		floats.ScaleTo(w, 1/tgt.scale, tgt.weights[t])
		if err := network.SetInputVec(ag.dynWeights[t], w); err != nil {
			return err
		}
	}
	return nil
}

// criticGraph computes the critic loss
//
//	-Σ w·[log p(G|s) + c·log p(v_target(s)|s)] / N
//
// over the stacked imagined states, where the targets are two-hot
// encoded λ-returns and target critic values.
type criticGraph struct {
	b      *Behaviour
	binder *network.Binder
	vm     G.VM
	N      int

	latents, returns, slow, weights *G.Node

	loss G.Value
}

func newCriticGraph(b *Behaviour, N int) (*criticGraph, error) {
	g := G.NewGraph()
	cg := &criticGraph{
		b:      b,
		binder: network.NewBinder(g, b.criticParams, ""),
		N:      N,
	}
	cg.latents = network.Input(g, "latents", mat.NewDense(N,
		b.c.latentSize(), nil))
	cg.returns = network.Input(g, "returns", mat.NewDense(N, b.c.Bins, nil))
	cg.slow = network.Input(g, "target_values", mat.NewDense(N, b.c.Bins,
		nil))
	cg.weights = network.InputVec(g, "weights", make([]float64, N))

	logits, err := b.critic.Fwd(cg.binder, cg.latents)
	if err != nil {
		return nil, fmt.Errorf("newCriticGraph: %v", err)
	}
	ll, err := b.critic.dist.LogProbNode(logits, cg.returns)
	if err != nil {
		return nil, fmt.Errorf("newCriticGraph: %v", err)
	}
	if b.c.CriticSlowReg > 0 {
		slow, err := b.critic.dist.LogProbNode(logits, cg.slow)
		if err != nil {
			return nil, fmt.Errorf("newCriticGraph: %v", err)
		}
		ll = G.Must(G.Add(ll, op.Scale(slow, b.c.CriticSlowReg)))
	}
	loss := G.Must(G.Sum(G.Must(G.HadamardProd(ll, cg.weights))))
	loss = op.Scale(loss, -1/float64(N))
	G.Read(loss, &cg.loss)

	if _, err := G.Grad(loss, cg.binder.Learnables()...); err != nil {
		return nil, fmt.Errorf("newCriticGraph: could not compute "+
			"gradient: %v", err)
	}
	cg.vm = G.NewTapeMachine(g, G.BindDualValues(cg.binder.Learnables()...))
	return cg, nil
}

// train performs one critic step and returns the loss
func (cg *criticGraph) train(traj *Trajectory, tgt *targets) (float64,
	error) {
	H := tgt.horizon
	if H*tgt.starts != cg.N {
		return 0, fmt.Errorf("train: illegal trajectory size "+
			"\n\twant(%v)\n\thave(%v)", cg.N, H*tgt.starts)
	}
	rets, slow := flatten(tgt.returns), flatten(tgt.values[:H])
	if floats.HasNaN(rets) || floats.HasNaN(slow) {
		return 0, fmt.Errorf("train: NaN critic targets")
	}
	twoHot := cg.b.critic.dist
	inputs := []struct {
		node  *G.Node
		value *mat.Dense
	}{
		{cg.latents, vstack(traj.Latents[:H])},
		{cg.returns, twoHot.EncodeBatch(rets)},
		{cg.slow, twoHot.EncodeBatch(slow)},
	}
	for _, in := range inputs {
		if err := network.SetInput(in.node, in.value); err != nil {
			return 0, fmt.Errorf("train: %v", err)
		}
	}
	if err := network.SetInputVec(cg.weights, flatten(tgt.weights)); err != nil {
		return 0, fmt.Errorf("train: %v", err)
	}

	if err := cg.binder.Load(); err != nil {
		return 0, fmt.Errorf("train: %v", err)
	}
	defer cg.vm.Reset()
	if err := cg.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("train: %v", err)
	}
	if err := cg.b.criticSolver.Step(cg.binder.Model()); err != nil {
		return 0, fmt.Errorf("train: %v", err)
	}
	if err := cg.binder.Store(); err != nil {
		return 0, fmt.Errorf("train: %v", err)
	}
	return scalar(cg.loss), nil
}
