package dreamer

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/solver"
	"github.com/sirupsen/logrus"
)

// Names of the independently serializable components of a Trainer
const (
	WorldModelName          = "world_model"
	ActorName               = "actor"
	CriticName              = "critic"
	TargetCriticName        = "target_critic"
	WorldModelOptimizerName = "world_model_optimizer"
	ActorOptimizerName      = "actor_optimizer"
	CriticOptimizerName     = "critic_optimizer"
	MomentsName             = "moments"
)

// Components returns the names of every serializable component
func Components() []string {
	return []string{
		WorldModelName, ActorName, CriticName, TargetCriticName,
		WorldModelOptimizerName, ActorOptimizerName, CriticOptimizerName,
		MomentsName,
	}
}

// momentsState is the serialized form of the return normalizer
type momentsState struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (t *Trainer) params(name string) *network.Params {
	switch name {
	case WorldModelName:
		return t.wmParams
	case ActorName:
		return t.actorParams
	case CriticName:
		return t.criticParams
	case TargetCriticName:
		return t.targetParams
	}
	return nil
}

func (t *Trainer) solver(name string) *solver.Solver {
	switch name {
	case WorldModelOptimizerName:
		return t.wmSolver
	case ActorOptimizerName:
		return t.actorSolver
	case CriticOptimizerName:
		return t.criticSolver
	}
	return nil
}

// Save writes the named component to w. Parameters are gob encoded and
// optimizers and the return normalizer are JSON encoded. Optimizers
// are saved by configuration only; their running statistics are not
// exposed by the solvers and restart when loaded.
func (t *Trainer) Save(w io.Writer, name string) error {
	if p := t.params(name); p != nil {
		return errors.Wrapf(gob.NewEncoder(w).Encode(p), "save %v", name)
	}
	if s := t.solver(name); s != nil {
		return errors.Wrapf(json.NewEncoder(w).Encode(s), "save %v", name)
	}
	if name == MomentsName {
		low, high := t.behaviour.Moments().State()
		state := momentsState{Low: low, High: high}
		return errors.Wrapf(json.NewEncoder(w).Encode(state), "save %v", name)
	}
	return fmt.Errorf("save: unknown component %q", name)
}

// Load reads the named component from r. Loaded parameters must have
// the same names and shapes as the current ones. After loading every
// parameter set, inference is identical to that of the saved Trainer.
func (t *Trainer) Load(r io.Reader, name string) error {
	if p := t.params(name); p != nil {
		loaded := network.NewParams()
		if err := gob.NewDecoder(r).Decode(loaded); err != nil {
			return errors.Wrapf(err, "load %v", name)
		}
		return errors.Wrapf(network.Set(p, loaded), "load %v", name)
	}
	if s := t.solver(name); s != nil {
		var loaded solver.Solver
		if err := json.NewDecoder(r).Decode(&loaded); err != nil {
			return errors.Wrapf(err, "load %v", name)
		}

		// The graphs hold pointers to the solvers, which must stay valid
		*s = loaded
		return nil
	}
	if name == MomentsName {
		var state momentsState
		if err := json.NewDecoder(r).Decode(&state); err != nil {
			return errors.Wrapf(err, "load %v", name)
		}
		t.behaviour.Moments().SetState(state.Low, state.High)
		return nil
	}
	return fmt.Errorf("load: unknown component %q", name)
}

// SaveDir saves every component to its own file in dir, creating dir
// if needed
func (t *Trainer) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "saveDir")
	}
	for _, name := range Components() {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return errors.Wrap(err, "saveDir")
		}
		err = t.Save(f, name)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrap(err, "saveDir")
		}
	}
	t.log.WithFields(logrus.Fields{
		"dir":  dir,
		"step": t.gradSteps,
	}).Info("saved checkpoint")
	return nil
}

// LoadDir loads every component saved by SaveDir in dir
func (t *Trainer) LoadDir(dir string) error {
	for _, name := range Components() {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return errors.Wrap(err, "loadDir")
		}
		err = t.Load(f, name)
		f.Close()
		if err != nil {
			return errors.Wrap(err, "loadDir")
		}
	}
	t.log.WithField("dir", dir).Info("loaded checkpoint")
	return nil
}
