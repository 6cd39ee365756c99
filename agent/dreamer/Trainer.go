package dreamer

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/expreplay"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/solver"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// Trainer owns the parameters of a Dreamer agent and updates them from
// replayed batches. Each training step makes one world model step,
// then one actor and one critic step on trajectories imagined from the
// world model's posteriors, and finally updates the target critic.
type Trainer struct {
	c   *Config
	log *logrus.Entry

	WorldModel *WorldModel
	Actor      *Actor
	Critic     *Critic

	wmParams     *network.Params
	actorParams  *network.Params
	criticParams *network.Params
	targetParams *network.Params

	wmSolver     *solver.Solver
	actorSolver  *solver.Solver
	criticSolver *solver.Solver

	behaviour *Behaviour
	wmG       *worldModelGraph
	rng       *rand.Rand
	gradSteps int

	registry *prometheus.Registry
	metrics  *trainerMetrics
}

// trainerMetrics holds the gauges and counters of a Trainer
type trainerMetrics struct {
	wm          *prometheus.GaugeVec
	actorLoss   prometheus.Gauge
	criticLoss  prometheus.Gauge
	entropy     prometheus.Gauge
	returns     prometheus.Gauge
	values      prometheus.Gauge
	returnScale prometheus.Gauge
	gradSteps   prometheus.Counter
}

func newTrainerMetrics(r *prometheus.Registry) *trainerMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dreamer",
			Name:      name,
			Help:      help,
		})
	}
	m := &trainerMetrics{
		wm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dreamer",
			Name:      "world_model_loss",
			Help:      "Batch mean of each world model loss term.",
		}, []string{"term"}),
		actorLoss:   gauge("actor_loss", "Actor loss of the last step."),
		criticLoss:  gauge("critic_loss", "Critic loss of the last step."),
		entropy:     gauge("actor_entropy", "Mean entropy of the policy."),
		returns:     gauge("lambda_return", "Mean imagined λ-return."),
		values:      gauge("value", "Mean target critic value."),
		returnScale: gauge("return_scale", "Return normalization scale."),
		gradSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dreamer",
			Name:      "gradient_steps_total",
			Help:      "Number of training steps taken.",
		}),
	}
	r.MustRegister(m.wm, m.actorLoss, m.criticLoss, m.entropy, m.returns,
		m.values, m.returnScale, m.gradSteps)
	return m
}

// NewTrainer returns a new Trainer for an environment with the given
// observation and action specifications. The target critic starts as
// a copy of the critic.
func NewTrainer(c *Config, obsSpec map[string]env.Spec,
	actionSpec env.Spec) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}
	masker, err := NewMasker(c.Masker)
	if err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}
	actor, err := NewActor(c, actionSpec, masker)
	if err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}
	wm, err := NewWorldModel(c, obsSpec, actor.ActionSize())
	if err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}
	critic, err := NewCritic(c)
	if err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}

	t := &Trainer{
		c:            c,
		log:          logrus.WithField("component", "trainer"),
		WorldModel:   wm,
		Actor:        actor,
		Critic:       critic,
		wmParams:     network.NewParams(),
		actorParams:  network.NewParams(),
		criticParams: network.NewParams(),
		rng:          rand.New(rand.NewSource(c.Seed)),
		registry:     prometheus.NewRegistry(),
	}
	if err := wm.Init(t.wmParams); err != nil {
		return nil, errors.Wrap(err, "newTrainer: world model")
	}
	if err := actor.Init(t.actorParams); err != nil {
		return nil, errors.Wrap(err, "newTrainer: actor")
	}
	if err := critic.Init(t.criticParams); err != nil {
		return nil, errors.Wrap(err, "newTrainer: critic")
	}
	t.targetParams = t.criticParams.Clone()

	if err := t.newSolvers(); err != nil {
		return nil, errors.Wrap(err, "newTrainer")
	}
	t.behaviour = NewBehaviour(c, wm, actor, critic, t.wmParams,
		t.actorParams, t.criticParams, t.targetParams, t.actorSolver,
		t.criticSolver)
	t.metrics = newTrainerMetrics(t.registry)

	t.log.WithFields(logrus.Fields{
		"world_model": t.wmParams.Size(),
		"actor":       t.actorParams.Size(),
		"critic":      t.criticParams.Size(),
		"actor_dist":  actor.Dist(),
		"variant":     actor.Variant(),
	}).Info("created trainer")
	return t, nil
}

func (t *Trainer) newSolvers() error {
	var err error
	c := t.c
	if t.wmSolver, err = solver.New(c.Solver, c.WorldModelLR,
		c.WorldModelEps, c.WorldModelClip); err != nil {
		return fmt.Errorf("world model solver: %v", err)
	}
	if t.actorSolver, err = solver.New(c.Solver, c.ActorLR, c.ActorEps,
		c.ActorClip); err != nil {
		return fmt.Errorf("actor solver: %v", err)
	}
	if t.criticSolver, err = solver.New(c.Solver, c.CriticLR, c.CriticEps,
		c.CriticClip); err != nil {
		return fmt.Errorf("critic solver: %v", err)
	}
	return nil
}

// Config returns the configuration of the Trainer
func (t *Trainer) Config() *Config {
	return t.c
}

// GradSteps returns the number of training steps taken
func (t *Trainer) GradSteps() int {
	return t.gradSteps
}

// Params returns the world model, actor, critic and target critic
// parameters. They are owned by the Trainer and must only be read.
func (t *Trainer) Params() (wm, actor, critic, target *network.Params) {
	return t.wmParams, t.actorParams, t.criticParams, t.targetParams
}

// NewPlayer returns a Player for numEnvs environments synchronized with
// the current parameters
func (t *Trainer) NewPlayer(numEnvs int) (*Player, error) {
	p, err := NewPlayer(t.c, t.WorldModel, t.Actor, numEnvs, t.c.Seed+1)
	if err != nil {
		return nil, err
	}
	p.Sync(t.wmParams, t.actorParams)
	return p, nil
}

// Sync synchronizes a Player with the current parameters
func (t *Trainer) Sync(p *Player) {
	p.Sync(t.wmParams, t.actorParams)
}

// Loss holds the losses of one training step
type Loss struct {
	WorldModel WorldModelLoss
	Behaviour  BehaviourLoss
}

// Train performs one training step on a batch of sequences
func (t *Trainer) Train(batch *expreplay.Batch) (Loss, error) {
	var err error
	if t.wmG == nil {
		t.wmG, err = newWorldModelGraph(t.WorldModel, t.c, t.wmParams,
			t.wmSolver, batch.SequenceLength(), batch.BatchSize())
		if err != nil {
			return Loss{}, errors.Wrap(err, "train")
		}
	}

	obs, wmLoss, err := t.wmG.train(batch, t.rng)
	if err != nil {
		return Loss{}, errors.Wrap(err, "train: world model")
	}
	if err := finite(t.wmParams); err != nil {
		return Loss{}, errors.Wrap(err, "train: world model")
	}
	bLoss, err := t.behaviour.train(obs, batch.Terminals, t.rng)
	if err != nil {
		return Loss{}, errors.Wrap(err, "train: behaviour")
	}
	if err := finite(t.actorParams); err != nil {
		return Loss{}, errors.Wrap(err, "train: actor")
	}
	if err := finite(t.criticParams); err != nil {
		return Loss{}, errors.Wrap(err, "train: critic")
	}

	t.gradSteps++
	if t.gradSteps%t.c.TargetUpdateFreq == 0 {
		if err := UpdateTarget(t.targetParams, t.criticParams,
			t.c.CriticTau); err != nil {
			return Loss{}, errors.Wrap(err, "train")
		}
	}

	loss := Loss{WorldModel: wmLoss, Behaviour: bLoss}
	t.record(loss)
	return loss, nil
}

// finite returns an error naming the first parameter of p holding a
// NaN or infinite value
func finite(p *network.Params) error {
	v := p.View()
	for _, name := range p.Names() {
		if matutils.HasNaN(v.Matrix(name)) {
			return errors.Errorf("non-finite parameter %v", name)
		}
	}
	return nil
}

func (t *Trainer) record(l Loss) {
	m := t.metrics
	wm := l.WorldModel
	for term, v := range map[string]float64{
		"total":             wm.Total,
		"observation":       wm.Observation,
		"reward":            wm.Reward,
		"continue":          wm.Continue,
		"kl_dynamics":       wm.KLDynamics,
		"kl_representation": wm.KLRepresentation,
	} {
		m.wm.WithLabelValues(term).Set(v)
	}
	b := l.Behaviour
	m.actorLoss.Set(b.Actor)
	m.criticLoss.Set(b.Critic)
	m.entropy.Set(b.Entropy)
	m.returns.Set(b.Return)
	m.values.Set(b.Value)
	m.returnScale.Set(b.ReturnScale)
	m.gradSteps.Inc()

	t.log.WithFields(logrus.Fields{
		"step":        t.gradSteps,
		"wm_loss":     wm.Total,
		"obs_loss":    wm.Observation,
		"reward_loss": wm.Reward,
		"kl_dyn":      wm.KLDynamics,
		"actor_loss":  b.Actor,
		"critic_loss": b.Critic,
		"entropy":     b.Entropy,
	}).Debug("training step")
}

// Metrics returns the gatherer of the Trainer's metrics
func (t *Trainer) Metrics() prometheus.Gatherer {
	return t.registry
}
