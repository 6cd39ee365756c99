package dreamer

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

// testConfig returns a small, valid configuration for a vector
// observation named "state"
func testConfig() *Config {
	c := DefaultConfig()
	c.StochasticSize = 4
	c.DiscreteSize = 4
	c.RecurrentSize = 8
	c.DenseUnits = 8
	c.MLPLayers = 1
	c.Bins = 15
	c.BinsLow = -5
	c.BinsHigh = 5
	c.Horizon = 3
	c.GreedySamples = 4
	c.SequenceLength = 4
	c.BatchSize = 2
	c.ReplayCapacity = 64
	c.LearningStarts = 0
	c.TrainEvery = 1
	return &c
}

func TestDefaultConfigValid(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("default config \n\twant(nil)\n\thave(%v)", err)
	}
	if err := testConfig().Validate(); err != nil {
		t.Errorf("test config \n\twant(nil)\n\thave(%v)", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"zero stochastic", func(c *Config) { c.StochasticSize = 0 }, "stochastic_size"},
		{"zero horizon", func(c *Config) { c.Horizon = 0 }, "horizon"},
		{"negative learning starts", func(c *Config) { c.LearningStarts = -1 }, "learning_starts"},
		{"small replay", func(c *Config) { c.ReplayCapacity = 2 }, "replay_capacity"},
		{"no keys", func(c *Config) { c.MLPKeys, c.CNNKeys = nil, nil }, "cnn_keys"},
		{"activation", func(c *Config) { c.Activation = "swish" }, "activation"},
		{"gamma", func(c *Config) { c.Gamma = 1.5 }, "gamma"},
		{"unimix", func(c *Config) { c.Unimix = 1 }, "unimix"},
		{"percentiles", func(c *Config) { c.MomentsPercLow = 0.96 }, "moments_perc_low"},
		{"bins", func(c *Config) { c.Bins = 1 }, "bins"},
		{"actor dist", func(c *Config) { c.ActorDist = "beta" }, "actor_dist"},
		{"masker", func(c *Config) { c.Masker = "atari" }, "masker"},
		{"learning rate", func(c *Config) { c.ActorLR = 0 }, "world_model_lr"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, test := range tests {
		c := testConfig()
		test.modify(c)
		err := c.Validate()
		cerr, ok := err.(*ConfigError)
		if !ok {
			t.Errorf("%v: error type \n\twant(*ConfigError)\n\thave(%T)",
				test.name, err)
			continue
		}
		if cerr.Field != test.field {
			t.Errorf("%v: field \n\twant(%v)\n\thave(%v)", test.name,
				test.field, cerr.Field)
		}
	}
}

func TestResolveActorDist(t *testing.T) {
	tests := []struct {
		dist       ActorDist
		continuous bool
		want       ActorDist
		err        bool
	}{
		{Auto, true, TruncNormal, false},
		{Auto, false, Discrete, false},
		{Discrete, false, Discrete, false},
		{TanhNormal, true, TanhNormal, false},
		{Discrete, true, "", true},
		{NormalDist, false, "", true},
	}

	for _, test := range tests {
		c := testConfig()
		c.ActorDist = test.dist
		have, err := c.ResolveActorDist(test.continuous)
		if test.err {
			if _, ok := err.(*ConfigError); !ok {
				t.Errorf("resolve(%v, %v) \n\twant(*ConfigError)\n\thave(%v)",
					test.dist, test.continuous, err)
			}
			continue
		}
		if err != nil || have != test.want {
			t.Errorf("resolve(%v, %v) \n\twant(%v)\n\thave(%v, %v)",
				test.dist, test.continuous, test.want, have, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "dreamer")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	yaml := "horizon: 5\nmlp_keys: [state, velocity]\nactor_dist: normal\n"
	if err := ioutil.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path, []string{"gamma=0.9", "masker=minedojo"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Horizon != 5 || c.ActorDist != NormalDist {
		t.Errorf("file values \n\twant(5, normal)\n\thave(%v, %v)",
			c.Horizon, c.ActorDist)
	}
	if len(c.MLPKeys) != 2 || c.MLPKeys[1] != "velocity" {
		t.Errorf("mlp keys \n\twant([state velocity])\n\thave(%v)", c.MLPKeys)
	}
	if c.Gamma != 0.9 || c.Masker != MinedojoMaskerName {
		t.Errorf("overrides \n\twant(0.9, minedojo)\n\thave(%v, %v)",
			c.Gamma, c.Masker)
	}
	if c.RecurrentSize != DefaultConfig().RecurrentSize {
		t.Errorf("defaults kept \n\twant(%v)\n\thave(%v)",
			DefaultConfig().RecurrentSize, c.RecurrentSize)
	}

	if _, err := LoadConfig("", []string{"lambda=2"}); err == nil {
		t.Error("expected error for lambda outside [0, 1]")
	}
	if _, err := LoadConfig("", []string{"no_such_field=1"}); err == nil {
		t.Error("expected error for unknown field")
	}
}
