// Package experiment implements functionality for running an experiment
package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/godreamer/agent/dreamer"
	"github.com/samuelfneumann/godreamer/environment/envconfig"
	"github.com/samuelfneumann/godreamer/experiment/checkpointer"
	"github.com/samuelfneumann/godreamer/experiment/trackers"
	"github.com/samuelfneumann/godreamer/utils/configutils"
)

// Experiment outlines structs that can run experiments. Experiments
// send every environment TimeStep to their Trackers, which cache the
// data to be saved to disk by Save() once the experiment has been run.
// The Run() method runs episodes until the step limit is reached, and
// RunEpisode() runs a single episode.
type Experiment interface {
	Run() error
	RunEpisode() (bool, error) // Returns whether the step limit was reached

	// Save all tracked data to disk
	Save() error

	// Adds a new Tracker to the (possibly already running) experiment.
	// Useful if you want to track data only after a specified event.
	Register(t trackers.Tracker)
}

// Type names a kind of Experiment
type Type string

const (
	OnlineExp Type = "online"
)

// Config represents a configuration of an experiment: the environment,
// the agent and how the experiment is logged and checkpointed
type Config struct {
	Type        Type             `json:"type" mapstructure:"type"`
	MaxSteps    uint             `json:"max_steps" mapstructure:"max_steps"`
	Seed        uint64           `json:"seed" mapstructure:"seed"`
	Environment envconfig.Config `json:"environment" mapstructure:"environment"`
	Agent       dreamer.Config   `json:"agent" mapstructure:"agent"`

	// Checkpoints are written under CheckpointDir every
	// CheckpointEvery steps, 0 disables checkpointing. A non-empty
	// ResumeDir holds a checkpoint to load before the experiment starts.
	CheckpointEvery  int                 `json:"checkpoint_every" mapstructure:"checkpoint_every"`
	CheckpointDir    string              `json:"checkpoint_dir" mapstructure:"checkpoint_dir"`
	CheckpointNaming checkpointer.Naming `json:"checkpoint_naming" mapstructure:"checkpoint_naming"`
	ResumeDir        string              `json:"resume_dir" mapstructure:"resume_dir"`

	// Episode returns and lengths are saved in DataDir
	DataDir     string `json:"data_dir" mapstructure:"data_dir"`
	LogEvery    uint   `json:"log_every" mapstructure:"log_every"`
	ProgressBar bool   `json:"progress_bar" mapstructure:"progress_bar"`
}

// DefaultConfig returns the default experiment: Dreamer balancing a
// cartpole from its state vector
func DefaultConfig() Config {
	return Config{
		Type:     OnlineExp,
		MaxSteps: 100000,
		Seed:     1,
		Environment: envconfig.Config{
			Environment:   envconfig.Cartpole,
			Task:          envconfig.Balance,
			EpisodeCutoff: 500,
			Discount:      0.99,
			ActionRepeat:  1,
		},
		Agent:            dreamer.DefaultConfig(),
		CheckpointEvery:  10000,
		CheckpointDir:    "checkpoint",
		CheckpointNaming: checkpointer.Overwrite,
		DataDir:          ".",
		LogEvery:         1000,
		ProgressBar:      true,
	}
}

// LoadConfig loads a Config from the YAML file at path, starting from
// DefaultConfig and applying overrides of the form key=value. Agent
// and environment fields are nested, as in "agent.horizon=10".
func LoadConfig(path string, overrides []string) (*Config, error) {
	c := DefaultConfig()
	if err := configutils.Load(path, overrides, &c); err != nil {
		return nil, errors.Wrap(err, "loadConfig")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "loadConfig")
	}
	return &c, nil
}

// Validate checks that the Config describes an experiment that can be
// created
func (c *Config) Validate() error {
	if c.Type != OnlineExp {
		return fmt.Errorf("validate: no such experiment type %q", c.Type)
	}
	if c.MaxSteps == 0 {
		return fmt.Errorf("validate: max steps must be positive")
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("validate: checkpoint interval must be "+
			"non-negative \n\thave(%v)", c.CheckpointEvery)
	}
	if c.CheckpointEvery > 0 && c.CheckpointDir == "" {
		return fmt.Errorf("validate: checkpointing requires a directory")
	}
	if _, err := c.CheckpointNaming.Dirname(c.CheckpointDir); err != nil {
		return errors.Wrap(err, "validate")
	}
	if err := c.Environment.Validate(); err != nil {
		return errors.Wrap(err, "validate: environment")
	}
	return errors.Wrap(c.Agent.Validate(), "validate: agent")
}

// Create creates the environment and agent of the experiment and
// returns the experiment, ready to run
func (c *Config) Create() (*Online, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "create")
	}
	e, _, err := c.Environment.Create(c.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "create")
	}
	agent, err := dreamer.New(e, &c.Agent)
	if err != nil {
		return nil, errors.Wrap(err, "create")
	}
	if c.ResumeDir != "" {
		if err := agent.Trainer().LoadDir(c.ResumeDir); err != nil {
			return nil, errors.Wrap(err, "create")
		}
		agent.Sync()
	}

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create")
	}
	t := []trackers.Tracker{
		trackers.NewReturn(filepath.Join(c.DataDir, "return.bin")),
		trackers.NewEpisodeLength(filepath.Join(c.DataDir,
			"episode_length.bin")),
	}

	var check []checkpointer.Checkpointer
	if c.CheckpointEvery > 0 {
		dirname, err := c.CheckpointNaming.Dirname(c.CheckpointDir)
		if err != nil {
			return nil, errors.Wrap(err, "create")
		}
		n, err := checkpointer.NewNStep(c.CheckpointEvery, agent.Trainer(),
			dirname)
		if err != nil {
			return nil, errors.Wrap(err, "create")
		}
		check = append(check, n)
	}

	o := NewOnline(e, agent, c.MaxSteps, t, check)
	o.SetLogEvery(c.LogEvery)
	if c.ProgressBar {
		o.ShowProgress(os.Stdout)
	}
	return o, nil
}
