package dreamer

import (
	"encoding/json"
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/solver"
	"github.com/samuelfneumann/godreamer/utils/configutils"
	"github.com/sirupsen/logrus"
)

// ActorDist is the kind of distribution an Actor uses over actions
type ActorDist string

const (
	Auto        ActorDist = "auto"
	Discrete    ActorDist = "discrete"
	NormalDist  ActorDist = "normal"
	TanhNormal  ActorDist = "tanh_normal"
	TruncNormal ActorDist = "trunc_normal"
)

// ConfigError reports a rejected configuration value
type ConfigError struct {
	Field string
	Msg   string
}

// Error satisfies the error interface
func (c *ConfigError) Error() string {
	return fmt.Sprintf("config: %v: %v", c.Field, c.Msg)
}

// Config is the configuration of a Dreamer agent. A Config is never
// modified after construction, and components keep a pointer to the
// Config they were built with.
type Config struct {
	// Observations
	CNNKeys       []string `json:"cnn_keys" mapstructure:"cnn_keys"`
	MLPKeys       []string `json:"mlp_keys" mapstructure:"mlp_keys"`
	CNNMultiplier int      `json:"cnn_multiplier" mapstructure:"cnn_multiplier"`
	SymlogInputs  bool     `json:"symlog_inputs" mapstructure:"symlog_inputs"`

	// Network sizes
	StochasticSize int    `json:"stochastic_size" mapstructure:"stochastic_size"`
	DiscreteSize   int    `json:"discrete_size" mapstructure:"discrete_size"`
	RecurrentSize  int    `json:"recurrent_size" mapstructure:"recurrent_size"`
	DenseUnits     int    `json:"dense_units" mapstructure:"dense_units"`
	MLPLayers      int    `json:"mlp_layers" mapstructure:"mlp_layers"`
	LayerNorm      bool   `json:"layer_norm" mapstructure:"layer_norm"`
	Activation     string `json:"activation" mapstructure:"activation"`
	HafnerInit     bool   `json:"hafner_init" mapstructure:"hafner_init"`

	// World model
	Unimix        float64 `json:"unimix" mapstructure:"unimix"`
	KLBalance     float64 `json:"kl_balance" mapstructure:"kl_balance"`
	KLFreeNats    float64 `json:"kl_free_nats" mapstructure:"kl_free_nats"`
	KLRegularizer float64 `json:"kl_regularizer" mapstructure:"kl_regularizer"`
	BinsLow       float64 `json:"bins_low" mapstructure:"bins_low"`
	BinsHigh      float64 `json:"bins_high" mapstructure:"bins_high"`
	Bins          int     `json:"bins" mapstructure:"bins"`

	// Behaviour
	Horizon          int       `json:"horizon" mapstructure:"horizon"`
	Gamma            float64   `json:"gamma" mapstructure:"gamma"`
	Lambda           float64   `json:"lambda" mapstructure:"lambda"`
	ActorDist        ActorDist `json:"actor_dist" mapstructure:"actor_dist"`
	ActorInitStd     float64   `json:"actor_init_std" mapstructure:"actor_init_std"`
	ActorMinStd      float64   `json:"actor_min_std" mapstructure:"actor_min_std"`
	ActorEnt         float64   `json:"actor_ent" mapstructure:"actor_ent"`
	ObjectiveMix     float64   `json:"objective_mix" mapstructure:"objective_mix"`
	GreedySamples    int       `json:"greedy_samples" mapstructure:"greedy_samples"`
	CriticTau        float64   `json:"critic_tau" mapstructure:"critic_tau"`
	TargetUpdateFreq int       `json:"target_update_freq" mapstructure:"target_update_freq"`
	CriticSlowReg    float64   `json:"critic_slow_reg" mapstructure:"critic_slow_reg"`
	MomentsDecay     float64   `json:"moments_decay" mapstructure:"moments_decay"`
	MomentsMax       float64   `json:"moments_max" mapstructure:"moments_max"`
	MomentsPercLow   float64   `json:"moments_perc_low" mapstructure:"moments_perc_low"`
	MomentsPercHigh  float64   `json:"moments_perc_high" mapstructure:"moments_perc_high"`

	// Exploration
	ExplAmount float64 `json:"expl_amount" mapstructure:"expl_amount"`
	ExplDecay  float64 `json:"expl_decay" mapstructure:"expl_decay"`
	ExplMin    float64 `json:"expl_min" mapstructure:"expl_min"`

	// Action masking, one of "" or "minedojo"
	Masker string `json:"masker" mapstructure:"masker"`

	// Optimizers
	Solver         solver.Type `json:"solver" mapstructure:"solver"`
	WorldModelLR   float64     `json:"world_model_lr" mapstructure:"world_model_lr"`
	ActorLR        float64     `json:"actor_lr" mapstructure:"actor_lr"`
	CriticLR       float64     `json:"critic_lr" mapstructure:"critic_lr"`
	WorldModelEps  float64     `json:"world_model_eps" mapstructure:"world_model_eps"`
	ActorEps       float64     `json:"actor_eps" mapstructure:"actor_eps"`
	CriticEps      float64     `json:"critic_eps" mapstructure:"critic_eps"`
	WorldModelClip float64     `json:"world_model_clip" mapstructure:"world_model_clip"`
	ActorClip      float64     `json:"actor_clip" mapstructure:"actor_clip"`
	CriticClip     float64     `json:"critic_clip" mapstructure:"critic_clip"`

	// Replay and training schedule
	SequenceLength int `json:"sequence_length" mapstructure:"sequence_length"`
	BatchSize      int `json:"batch_size" mapstructure:"batch_size"`
	ReplayCapacity int `json:"replay_capacity" mapstructure:"replay_capacity"`
	LearningStarts int `json:"learning_starts" mapstructure:"learning_starts"`
	TrainEvery     int `json:"train_every" mapstructure:"train_every"`

	Seed     uint64 `json:"seed" mapstructure:"seed"`
	LogLevel string `json:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns the default Dreamer configuration
func DefaultConfig() Config {
	return Config{
		CNNKeys:       nil,
		MLPKeys:       []string{"state"},
		CNNMultiplier: 32,
		SymlogInputs:  true,

		StochasticSize: 32,
		DiscreteSize:   32,
		RecurrentSize:  512,
		DenseUnits:     512,
		MLPLayers:      2,
		LayerNorm:      true,
		Activation:     "silu",
		HafnerInit:     true,

		Unimix:        0.01,
		KLBalance:     0.8,
		KLFreeNats:    1.0,
		KLRegularizer: 1.0,
		BinsLow:       -20,
		BinsHigh:      20,
		Bins:          255,

		Horizon:          15,
		Gamma:            0.99,
		Lambda:           0.95,
		ActorDist:        Auto,
		ActorInitStd:     2.0,
		ActorMinStd:      0.1,
		ActorEnt:         3e-4,
		ObjectiveMix:     1.0,
		GreedySamples:    100,
		CriticTau:        0.02,
		TargetUpdateFreq: 1,
		CriticSlowReg:    1.0,
		MomentsDecay:     0.99,
		MomentsMax:       1.0,
		MomentsPercLow:   0.05,
		MomentsPercHigh:  0.95,

		ExplAmount: 0.0,
		ExplDecay:  0.0,
		ExplMin:    0.0,

		Solver:         solver.Adam,
		WorldModelLR:   1e-4,
		ActorLR:        8e-5,
		CriticLR:       8e-5,
		WorldModelEps:  1e-8,
		ActorEps:       1e-5,
		CriticEps:      1e-5,
		WorldModelClip: 1000,
		ActorClip:      100,
		CriticClip:     100,

		SequenceLength: 64,
		BatchSize:      16,
		ReplayCapacity: 1000000,
		LearningStarts: 1024,
		TrainEvery:     5,

		Seed:     1,
		LogLevel: "info",
	}
}

// LoadConfig loads a Config from the YAML file at path, starting from
// DefaultConfig and applying overrides of the form key=value. An
// empty path loads the defaults.
func LoadConfig(path string, overrides []string) (*Config, error) {
	c := DefaultConfig()
	if err := configutils.Load(path, overrides, &c); err != nil {
		return nil, fmt.Errorf("loadConfig: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate returns a *ConfigError describing the first illegal value
// of the Config, or nil
func (c *Config) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"stochastic_size", c.StochasticSize},
		{"discrete_size", c.DiscreteSize},
		{"recurrent_size", c.RecurrentSize},
		{"dense_units", c.DenseUnits},
		{"horizon", c.Horizon},
		{"greedy_samples", c.GreedySamples},
		{"target_update_freq", c.TargetUpdateFreq},
		{"sequence_length", c.SequenceLength},
		{"batch_size", c.BatchSize},
		{"replay_capacity", c.ReplayCapacity},
		{"train_every", c.TrainEvery},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{p.field, fmt.Sprintf("must be positive, "+
				"have(%v)", p.value)}
		}
	}
	if len(c.CNNKeys) > 0 && c.CNNMultiplier <= 0 {
		return &ConfigError{"cnn_multiplier", fmt.Sprintf("must be "+
			"positive, have(%v)", c.CNNMultiplier)}
	}
	if c.LearningStarts < 0 {
		return &ConfigError{"learning_starts", "must be non-negative"}
	}
	if c.ReplayCapacity < c.SequenceLength {
		return &ConfigError{"replay_capacity", fmt.Sprintf("must hold at "+
			"least one sequence of %v steps", c.SequenceLength)}
	}
	if c.MLPLayers < 0 {
		return &ConfigError{"mlp_layers", "must be non-negative"}
	}
	if len(c.CNNKeys) == 0 && len(c.MLPKeys) == 0 {
		return &ConfigError{"cnn_keys", "no observation keys configured " +
			"for either the cnn or mlp encoder"}
	}
	if _, err := network.ActivationByName(c.Activation); err != nil {
		return &ConfigError{"activation", err.Error()}
	}

	unit := []struct {
		field string
		value float64
	}{
		{"kl_balance", c.KLBalance},
		{"gamma", c.Gamma},
		{"lambda", c.Lambda},
		{"objective_mix", c.ObjectiveMix},
		{"critic_tau", c.CriticTau},
		{"moments_decay", c.MomentsDecay},
		{"moments_perc_low", c.MomentsPercLow},
		{"moments_perc_high", c.MomentsPercHigh},
	}
	for _, u := range unit {
		if u.value < 0 || u.value > 1 {
			return &ConfigError{u.field, fmt.Sprintf("must be in [0, 1], "+
				"have(%v)", u.value)}
		}
	}
	if c.Unimix < 0 || c.Unimix >= 1 {
		return &ConfigError{"unimix", fmt.Sprintf("must be in [0, 1), "+
			"have(%v)", c.Unimix)}
	}
	if c.MomentsPercLow >= c.MomentsPercHigh {
		return &ConfigError{"moments_perc_low", "must be less than " +
			"moments_perc_high"}
	}
	if c.MomentsMax <= 0 {
		return &ConfigError{"moments_max", "must be positive"}
	}
	if c.KLFreeNats < 0 || c.KLRegularizer < 0 || c.ActorEnt < 0 ||
		c.CriticSlowReg < 0 {
		return &ConfigError{"kl_free_nats", "loss scales must be " +
			"non-negative"}
	}
	if c.Bins < 2 || c.BinsLow >= c.BinsHigh {
		return &ConfigError{"bins", fmt.Sprintf("need at least two bins "+
			"over a non-empty range, have(%v over [%v, %v])", c.Bins,
			c.BinsLow, c.BinsHigh)}
	}
	if c.ActorMinStd < 0 || c.ActorInitStd < 0 {
		return &ConfigError{"actor_min_std", "standard deviations must " +
			"be non-negative"}
	}
	switch c.ActorDist {
	case Auto, Discrete, NormalDist, TanhNormal, TruncNormal:
	default:
		return &ConfigError{"actor_dist", fmt.Sprintf("unknown actor "+
			"distribution %q", c.ActorDist)}
	}
	if c.ExplAmount < 0 || c.ExplMin < 0 || c.ExplDecay < 0 {
		return &ConfigError{"expl_amount", "exploration schedule must " +
			"be non-negative"}
	}
	switch c.Masker {
	case "", MinedojoMaskerName:
	default:
		return &ConfigError{"masker", fmt.Sprintf("unknown masker %q",
			c.Masker)}
	}
	if _, err := solver.New(c.Solver, 1, 1, 0); err != nil {
		return &ConfigError{"solver", err.Error()}
	}
	rates := []float64{c.WorldModelLR, c.ActorLR, c.CriticLR}
	for _, lr := range rates {
		if lr <= 0 {
			return &ConfigError{"world_model_lr", "learning rates must " +
				"be positive"}
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return &ConfigError{"log_level", err.Error()}
	}
	return nil
}

// ResolveActorDist returns the actor distribution used for an action
// space, resolving Auto. Discrete distributions over continuous action
// spaces are rejected.
func (c *Config) ResolveActorDist(continuous bool) (ActorDist, error) {
	switch {
	case c.ActorDist == Auto && continuous:
		return TruncNormal, nil
	case c.ActorDist == Auto:
		return Discrete, nil
	case c.ActorDist == Discrete && continuous:
		return "", &ConfigError{"actor_dist", "discrete distribution " +
			"requested for a continuous action space"}
	case c.ActorDist != Discrete && !continuous:
		return "", &ConfigError{"actor_dist", fmt.Sprintf("%v "+
			"distribution requested for a discrete action space",
			c.ActorDist)}
	}
	return c.ActorDist, nil
}

// activation returns the configured hidden activation
func (c *Config) activation() *network.Activation {
	act, err := network.ActivationByName(c.Activation)
	if err != nil {
		panic(fmt.Sprintf("activation: %v", err))
	}
	return act
}

// latentSize returns the size of a latent state, the stochastic state
// concatenated with the recurrent state
func (c *Config) latentSize() int {
	return c.StochasticSize*c.DiscreteSize + c.RecurrentSize
}

// twoHot returns the distribution of reward and value heads
func (c *Config) twoHot() *distribution.TwoHot {
	t, err := distribution.NewTwoHot(c.BinsLow, c.BinsHigh, c.Bins)
	if err != nil {
		panic(fmt.Sprintf("twoHot: %v", err))
	}
	return t
}

func (c *Config) String() string {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(out)
}
