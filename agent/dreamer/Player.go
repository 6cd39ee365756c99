package dreamer

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Player acts in a batch of environments with the world model and
// actor. For every environment it holds the last action taken and the
// current recurrent and stochastic states.
//
// A Player reads parameters from snapshots taken by Sync and never
// from the trainer's parameters directly, so training may proceed
// while the Player acts. A Player is not safe for concurrent use.
type Player struct {
	c     *Config
	wm    *WorldModel
	actor *Actor

	wmView, actorView network.View

	numEnvs   int
	actions   *mat.Dense
	recurrent *mat.Dense
	stoch     *mat.Dense

	rng   *rand.Rand
	steps int
}

// NewPlayer returns a new Player for numEnvs environments. The Player
// has no parameters until Sync is called.
func NewPlayer(c *Config, wm *WorldModel, actor *Actor, numEnvs int,
	seed uint64) (*Player, error) {
	if numEnvs <= 0 {
		return nil, fmt.Errorf("newPlayer: number of environments must be "+
			"positive \n\thave(%v)", numEnvs)
	}
	return &Player{
		c:       c,
		wm:      wm,
		actor:   actor,
		numEnvs: numEnvs,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Sync replaces the parameters of the Player with snapshots of the
// given parameters. If the Player has no state yet, all environments
// are reset.
func (p *Player) Sync(wm, actor *network.Params) {
	p.wmView, p.actorView = wm.View(), actor.View()
	if p.actions == nil {
		p.InitStates(nil)
	}
}

// InitStates resets the environments with the given indices to the
// episode-start state: a zero action, a zero recurrent state and the
// prior mode of that recurrent state. A nil slice resets every
// environment; the state of every other environment is untouched.
func (p *Player) InitStates(reset []int) {
	if p.wmView == nil {
		panic("initStates: player has not been synchronized")
	}
	if p.actions == nil {
		p.actions = mat.NewDense(p.numEnvs, p.actor.ActionSize(), nil)
		p.recurrent = mat.NewDense(p.numEnvs, p.wm.RSSM.RecurrentSize(), nil)
		p.stoch = mat.NewDense(p.numEnvs, p.wm.RSSM.StochasticSize(), nil)
	}
	if reset == nil {
		reset = make([]int, p.numEnvs)
		for i := range reset {
			reset[i] = i
		}
	}

	_, initStoch := p.wm.RSSM.InitialState(p.wmView, 1)
	for _, i := range reset {
		zero(p.actions.RawRowView(i))
		zero(p.recurrent.RawRowView(i))
		copy(p.stoch.RawRowView(i), initStoch.RawRowView(0))
	}
}

// State returns copies of the stored actions, recurrent states and
// stochastic states, one row per environment
func (p *Player) State() (actions, recurrent, stoch *mat.Dense) {
	return mat.DenseCopyOf(p.actions), mat.DenseCopyOf(p.recurrent),
		mat.DenseCopyOf(p.stoch)
}

// step advances the state of every environment with a new batch of
// observations and returns the actor's action
func (p *Player) step(obs, masks map[string]*mat.Dense,
	greedy bool) (*Action, error) {
	if p.actions == nil {
		return nil, fmt.Errorf("player has not been synchronized")
	}
	embed, err := p.wm.Encoder.Encode(p.wmView, obs)
	if err != nil {
		return nil, err
	}
	if r, _ := embed.Dims(); r != p.numEnvs {
		return nil, fmt.Errorf("illegal batch size \n\twant(%v)\n\thave(%v)",
			p.numEnvs, r)
	}

	recurrent := p.wm.RSSM.Recurrent(p.wmView, p.stoch, p.recurrent,
		p.actions)
	probs, _ := p.wm.RSSM.Representation(p.wmView, recurrent, embed)
	p.recurrent = recurrent
	p.stoch = p.wm.RSSM.sample(probs, p.rng, !greedy)

	latent := Latent(p.stoch, p.recurrent)
	return p.actor.Act(p.actorView, latent, masks, p.rng, greedy), nil
}

// GreedyAction returns the deterministic action of every environment
// given its new observation. Observations and masks hold one row per
// environment; masks may be nil.
func (p *Player) GreedyAction(obs, masks map[string]*mat.Dense) (*mat.Dense,
	error) {
	act, err := p.step(obs, masks, true)
	if err != nil {
		return nil, fmt.Errorf("greedyAction: %v", err)
	}
	p.actions = act.Value
	return mat.DenseCopyOf(act.Value), nil
}

// ExplorationAction returns a sampled action of every environment with
// added exploration noise: Gaussian noise clipped to [-1, 1] for
// continuous actions, or uniformly random classes of each head with
// probability ε for discrete actions.
func (p *Player) ExplorationAction(obs,
	masks map[string]*mat.Dense) (*mat.Dense, error) {
	act, err := p.step(obs, masks, false)
	if err != nil {
		return nil, fmt.Errorf("explorationAction: %v", err)
	}

	eps := p.Epsilon()
	p.steps++
	if eps > 0 {
		if p.actor.Continuous() {
			p.perturb(act.Value, eps)
		} else {
			p.substitute(act, masks, eps)
		}
	}
	p.actions = act.Value
	return mat.DenseCopyOf(act.Value), nil
}

// Epsilon returns the current exploration amount, decayed linearly
// from ExplAmount down to ExplMin
func (p *Player) Epsilon() float64 {
	eps := p.c.ExplAmount - p.c.ExplDecay*float64(p.steps)
	return math.Max(p.c.ExplMin, eps)
}

func (p *Player) perturb(actions *mat.Dense, std float64) {
	noise := distuv.Normal{Mu: 0, Sigma: std, Src: p.rng}
	actions.Apply(func(_, _ int, v float64) float64 {
		return floatutils.Clip(v+noise.Rand(), -1, 1)
	}, actions)
}

// substitute replaces each head of each row by a uniformly random
// allowed class with probability eps
func (p *Player) substitute(act *Action, masks map[string]*mat.Dense,
	eps float64) {
	for h, head := range act.Heads {
		var allowed *mat.Dense
		if p.actor.Variant() == Masked && masks != nil {
			allowed = p.actor.masker.Allowed(h, act.Heads[:h], masks)
		}

		rows, classes := head.Dims()
		for i := 0; i < rows; i++ {
			if p.rng.Float64() >= eps {
				continue
			}
			var choices []int
			for j := 0; j < classes; j++ {
				if allowed == nil || allowed.At(i, j) != 0 {
					choices = append(choices, j)
				}
			}
			if len(choices) == 0 {
				continue
			}
			row := head.RawRowView(i)
			zero(row)
			row[choices[p.rng.Intn(len(choices))]] = 1
		}
	}
	act.Value = matutils.HStack(act.Heads...)
}
