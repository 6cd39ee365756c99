// Package envconfig provides configuration structs for configuring
// environments with default physical parameters and tasks.
// Environment configurations in this package are JSON and YAML
// serializable.
package envconfig

import (
	"fmt"

	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/environment/box2d/pointmass"
	"github.com/samuelfneumann/godreamer/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/godreamer/environment/wrappers"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/spatial/r1"
)

// EnvName stores the name of environments that can be configured with
// this package
type EnvName string

// Environments available for configuration
const (
	Cartpole  EnvName = "Cartpole"
	PointMass EnvName = "PointMass"
)

// TaskName stores the tasks that can be configured with this package.
// Note that not all tasks can be used with all environments. The tasks
// that can be used with each environment are as follows:
//
//	Environment			Task
//	Cartpole			Balance
//	PointMass			Reach
type TaskName string

// Tasks available for configuration
const (
	Balance TaskName = "Balance"
	Reach   TaskName = "Reach"
)

// Config implements a specific configuration of a specific environment
// and specific task. Not all environments can have all tasks.
type Config struct {
	Environment   EnvName  `json:"environment" mapstructure:"environment"`
	Task          TaskName `json:"task" mapstructure:"task"`
	EpisodeCutoff uint     `json:"episode_cutoff" mapstructure:"episode_cutoff"`
	Discount      float64  `json:"discount" mapstructure:"discount"`
	ImageSize     int      `json:"image_size" mapstructure:"image_size"`
	ActionRepeat  int      `json:"action_repeat" mapstructure:"action_repeat"`
}

// Validate checks that the Config describes an environment that can
// be created
func (c Config) Validate() error {
	switch {
	case c.Environment == Cartpole && c.Task != Balance,
		c.Environment == PointMass && c.Task != Reach:
		return fmt.Errorf("validate: %v environment has no task %v",
			c.Environment, c.Task)
	case c.Environment != Cartpole && c.Environment != PointMass:
		return fmt.Errorf("validate: no such environment %v", c.Environment)
	case c.EpisodeCutoff == 0:
		return fmt.Errorf("validate: episode cutoff must be positive")
	case c.Discount < 0 || c.Discount > 1:
		return fmt.Errorf("validate: discount %v outside [0, 1]", c.Discount)
	case c.ImageSize < 0 || c.ImageSize%8 != 0:
		return fmt.Errorf("validate: image size %v must be a non-negative "+
			"multiple of 8", c.ImageSize)
	}
	return nil
}

// Create returns the environment described by the Config as well as
// the first timestep of the environment.
func (c Config) Create(seed uint64) (env.Environment, ts.TimeStep, error) {
	if err := c.Validate(); err != nil {
		return nil, ts.TimeStep{}, err
	}

	var e env.Environment
	var first ts.TimeStep
	switch c.Environment {
	case Cartpole:
		e, first = CreateCartpole(int(c.EpisodeCutoff), seed, c.Discount,
			c.ImageSize)

	case PointMass:
		e, first = CreatePointMass(int(c.EpisodeCutoff), seed, c.Discount,
			c.ImageSize)
	}

	if c.ActionRepeat > 1 {
		e = wrappers.NewActionRepeat(e, c.ActionRepeat)
	}
	return e, first, nil
}

// CreateCartpole is a factory for creating the Cartpole environment
// with default physical parameters and default task parameters.
func CreateCartpole(cutoff int, seed uint64, discount float64,
	imageSize int) (env.Environment, ts.TimeStep) {
	bounds := r1.Interval{Min: -0.05, Max: 0.05}
	s := env.NewUniformStarter([]r1.Interval{
		bounds,
		bounds,
		bounds,
		bounds,
	}, seed)

	task := cartpole.NewBalance(s, cutoff, cartpole.FailAngle)
	return cartpole.New(task, discount, imageSize)
}

// CreatePointMass is a factory for creating the PointMass environment
// with its goal at the centre of the arena
func CreatePointMass(cutoff int, seed uint64, discount float64,
	imageSize int) (env.Environment, ts.TimeStep) {
	margin := 4 * pointmass.Radius
	bounds := r1.Interval{Min: margin, Max: pointmass.Size - margin}
	s := env.NewUniformStarter([]r1.Interval{bounds, bounds}, seed)

	task := pointmass.NewReach(s, cutoff, pointmass.Size/2, pointmass.Size/2)
	return pointmass.New(task, discount, imageSize)
}
