// Package dreamer implements a Dreamer-V3 agent. A world model made of
// an observation encoder, a recurrent state-space model and prediction
// heads is learned from replayed sequences, and an actor and critic
// are learned purely from trajectories imagined by the world model.
package dreamer

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/expreplay"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Dreamer is an online agent acting in a single environment. It stores
// every step in a sequence replay buffer, trains on sampled sequences
// every TrainEvery steps once LearningStarts steps have been taken,
// and acts with a Player synchronized after each training step.
type Dreamer struct {
	trainer *Trainer
	player  *Player
	replay  expreplay.ExperienceReplayer
	log     *logrus.Entry

	actionSpec env.Spec
	lastAction *mat.VecDense
	eval       bool
	steps      int
}

// New returns a new Dreamer agent for environment e
func New(e env.Environment, c *Config) (*Dreamer, error) {
	trainer, err := NewTrainer(c, e.ObservationSpec(), e.ActionSpec())
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}
	player, err := trainer.NewPlayer(1)
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}

	replayConfig := expreplay.Config{
		SampleMethod:      expreplay.Uniform,
		BatchSize:         c.BatchSize,
		SequenceLength:    c.SequenceLength,
		MaxReplayCapacity: c.ReplayCapacity,
		MinReplayCapacity: maxInt(c.LearningStarts, c.SequenceLength),
	}
	replay, err := replayConfig.Create(trainer.Actor.ActionSize(), c.Seed+2)
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}

	return &Dreamer{
		trainer:    trainer,
		player:     player,
		replay:     replay,
		log:        logrus.WithField("component", "dreamer"),
		actionSpec: e.ActionSpec(),
	}, nil
}

// Trainer returns the Trainer of the agent
func (d *Dreamer) Trainer() *Trainer {
	return d.trainer
}

// Metrics implements the agent.Instrumented interface
func (d *Dreamer) Metrics() prometheus.Gatherer {
	return d.trainer.Metrics()
}

// Sync synchronizes the acting Player with the parameters of the
// Trainer. It must be called after loading a checkpoint.
func (d *Dreamer) Sync() {
	d.trainer.Sync(d.player)
}

// Eval implements the agent.Policy interface
func (d *Dreamer) Eval() { d.eval = true }

// Train implements the agent.Policy interface
func (d *Dreamer) Train() { d.eval = false }

// IsEval implements the agent.Policy interface
func (d *Dreamer) IsEval() bool { return d.eval }

// observations converts a TimeStep observation into a batch of one
func observations(o ts.Observation) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense, len(o))
	for k, v := range o {
		out[k] = mat.NewDense(1, v.Len(), mat.VecDenseCopyOf(v).RawVector().Data)
	}
	return out
}

// SelectAction implements the agent.Policy interface. Observations
// double as action masks, so masks are read from observation keys.
func (d *Dreamer) SelectAction(t ts.TimeStep) *mat.VecDense {
	obs := observations(t.Observation)
	var action *mat.Dense
	var err error
	if d.eval {
		action, err = d.player.GreedyAction(obs, obs)
	} else {
		action, err = d.player.ExplorationAction(obs, obs)
	}
	if err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	d.lastAction = mat.NewVecDense(len(action.RawRowView(0)),
		action.RawRowView(0))
	return d.EnvAction(d.lastAction)
}

// EnvAction converts an action of the actor into an environment
// action. Discrete heads become the index of their class offset by
// the lower bound of the head; continuous actions in [-1, 1] are
// rescaled to the action bounds.
func (d *Dreamer) EnvAction(a mat.Vector) *mat.VecDense {
	spec := d.actionSpec
	if spec.Cardinality == env.Discrete {
		heads := spec.ActionHeads()
		out := mat.NewVecDense(len(heads), nil)
		var at int
		for i, n := range heads {
			row := make([]float64, n)
			for j := range row {
				row[j] = a.AtVec(at + j)
			}
			out.SetVec(i, spec.LowerBound.AtVec(i)+
				float64(floatutils.Argmax(row)))
			at += n
		}
		return out
	}

	out := mat.NewVecDense(a.Len(), nil)
	for i := 0; i < a.Len(); i++ {
		low, high := spec.LowerBound.AtVec(i), spec.UpperBound.AtVec(i)
		x := floatutils.Clip(a.AtVec(i), -1, 1)
		out.SetVec(i, low+(x+1)/2*(high-low))
	}
	return out
}

// ObserveFirst implements the agent.Learner interface
func (d *Dreamer) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		d.log.WithField("step", t.Number).Warn("observeFirst called on a " +
			"step that does not start an episode")
	}
	d.player.InitStates(nil)
	d.lastAction = nil
	if err := d.replay.Add(expreplay.NewStep(t, nil)); err != nil {
		return errors.Wrap(err, "observeFirst")
	}
	return nil
}

// Observe implements the agent.Learner interface. The actor's own
// encoding of the last selected action is stored rather than the
// environment action.
func (d *Dreamer) Observe(action mat.Vector, next ts.TimeStep) error {
	if d.lastAction == nil {
		return fmt.Errorf("observe: no action has been selected")
	}
	if err := d.replay.Add(expreplay.NewStep(next, d.lastAction)); err != nil {
		return errors.Wrap(err, "observe")
	}
	return nil
}

// Step implements the agent.Learner interface
func (d *Dreamer) Step() error {
	d.steps++
	c := d.trainer.Config()
	if d.eval || d.steps < c.LearningStarts || d.steps%c.TrainEvery != 0 {
		return nil
	}

	batch, err := d.replay.Sample()
	if expreplay.IsEmptyBuffer(err) || expreplay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "step")
	}
	if _, err := d.trainer.Train(batch); err != nil {
		return errors.Wrap(err, "step")
	}
	d.trainer.Sync(d.player)
	return nil
}

// EndEpisode implements the agent.Learner interface
func (d *Dreamer) EndEpisode() {}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
