package experiment

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samuelfneumann/godreamer/agent/dreamer"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/experiment/trackers"
	"github.com/samuelfneumann/godreamer/network"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gonum.org/v1/gonum/mat"
)

// counter is an environment rewarding each step with 1 and ending
// episodes after a fixed number of steps
type counter struct {
	steps, limit int
	last         ts.TimeStep
}

func (c *counter) obs() ts.Observation {
	return ts.Observation{"state": mat.NewVecDense(1,
		[]float64{float64(c.steps)})}
}

func (c *counter) Reset() ts.TimeStep {
	c.steps = 0
	c.last = ts.New(ts.First, 0, 1, c.obs(), 0)
	return c.last
}

func (c *counter) Step(*mat.VecDense) (ts.TimeStep, bool) {
	c.steps++
	c.last = ts.New(ts.Mid, 1, 1, c.obs(), c.steps)
	if c.steps >= c.limit {
		c.last.StepType = ts.Last
		c.last.SetEnd(ts.Terminal)
	}
	return c.last, c.last.Last()
}

func (c *counter) LastTimeStep() ts.TimeStep { return c.last }

func (c *counter) spec(t env.SpecType) env.Spec {
	v := mat.NewVecDense(1, []float64{1})
	return env.NewSpec(v, t, v, v, env.Continuous)
}

func (c *counter) RewardSpec() env.Spec   { return c.spec(env.Reward) }
func (c *counter) DiscountSpec() env.Spec { return c.spec(env.Discount) }
func (c *counter) ActionSpec() env.Spec   { return c.spec(env.Action) }
func (c *counter) ObservationSpec() map[string]env.Spec {
	return map[string]env.Spec{"state": c.spec(env.Observation)}
}

// recorder is an instrumented agent that counts its calls
type recorder struct {
	first, observed, steps, episodes int
	eval                             bool

	registry *prometheus.Registry
	gauge    prometheus.Gauge
}

func newRecorder() *recorder {
	r := &recorder{registry: prometheus.NewRegistry()}
	r.gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "steps"})
	r.registry.MustRegister(r.gauge)
	return r
}

func (r *recorder) ObserveFirst(ts.TimeStep) error {
	r.first++
	return nil
}

func (r *recorder) Observe(mat.Vector, ts.TimeStep) error {
	r.observed++
	return nil
}

func (r *recorder) Step() error {
	r.steps++
	r.gauge.Set(float64(r.steps))
	return nil
}

func (r *recorder) SelectAction(ts.TimeStep) *mat.VecDense {
	return mat.NewVecDense(1, nil)
}

func (r *recorder) EndEpisode()                  { r.episodes++ }
func (r *recorder) Eval()                        { r.eval = true }
func (r *recorder) Train()                       { r.eval = false }
func (r *recorder) IsEval() bool                 { return r.eval }
func (r *recorder) Metrics() prometheus.Gatherer { return r.registry }

type stepCounter struct{ calls int }

func (s *stepCounter) Checkpoint(ts.TimeStep) error {
	s.calls++
	return nil
}

func TestOnlineRun(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	a := newRecorder()
	ret := trackers.NewReturn("")
	length := trackers.NewEpisodeLength("")
	check := &stepCounter{}
	o := NewOnline(&counter{limit: 4}, a, 10, []trackers.Tracker{ret},
		nil)
	o.Register(length)
	o.checkpointers = append(o.checkpointers, check)
	o.SetLogEvery(5)

	if err := o.Run(); err != nil {
		t.Fatal(err)
	}
	if o.Steps() != 10 || a.steps != 10 || a.observed != 10 {
		t.Errorf("steps \n\twant(10)\n\thave(%v, %v, %v)", o.Steps(), a.steps,
			a.observed)
	}
	if a.first != 3 || a.episodes != 2 {
		t.Errorf("episodes \n\twant(3 started, 2 ended)\n\thave(%v, %v)",
			a.first, a.episodes)
	}
	if check.calls != 10 {
		t.Errorf("checkpoint calls \n\twant(10)\n\thave(%v)", check.calls)
	}
	if r := ret.Returns(); len(r) != 2 || r[0] != 4 || r[1] != 4 {
		t.Errorf("returns \n\twant([4 4])\n\thave(%v)", r)
	}
	if l := length.Lengths(); len(l) != 2 || l[0] != 4 {
		t.Errorf("lengths \n\twant([4 4])\n\thave(%v)", l)
	}

	var logged []float64
	for _, e := range hook.AllEntries() {
		if e.Message == "metrics" && e.Level == logrus.InfoLevel {
			logged = append(logged, e.Data["steps"].(float64))
		}
	}
	if len(logged) != 2 || logged[0] != 5 || logged[1] != 10 {
		t.Errorf("logged metrics \n\twant([5 10])\n\thave(%v)", logged)
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("", []string{"max_steps=50", "agent.horizon=7",
		"environment.environment=PointMass", "environment.task=Reach"})
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxSteps != 50 || c.Agent.Horizon != 7 {
		t.Errorf("overrides \n\twant(50, 7)\n\thave(%v, %v)", c.MaxSteps,
			c.Agent.Horizon)
	}
	if c.Agent.RecurrentSize != dreamer.DefaultConfig().RecurrentSize {
		t.Errorf("agent defaults \n\twant(%v)\n\thave(%v)",
			dreamer.DefaultConfig().RecurrentSize, c.Agent.RecurrentSize)
	}

	illegal := [][]string{
		{"type=offline"},
		{"max_steps=0"},
		{"checkpoint_every=-1"},
		{"checkpoint_naming=latest"},
		{"environment.task=Reach"},
		{"agent.gamma=2"},
	}
	for _, o := range illegal {
		if _, err := LoadConfig("", o); err == nil {
			t.Errorf("expected error for %v", o)
		}
	}
}

func TestCreateAndRun(t *testing.T) {
	dir, err := ioutil.TempDir("", "experiment")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := DefaultConfig()
	c.MaxSteps = 24
	c.Environment.EpisodeCutoff = 10
	c.CheckpointEvery = 12
	c.CheckpointDir = filepath.Join(dir, "checkpoint")
	c.DataDir = filepath.Join(dir, "data")
	c.LogEvery = 0
	c.ProgressBar = false

	a := &c.Agent
	a.StochasticSize, a.DiscreteSize = 4, 4
	a.RecurrentSize, a.DenseUnits, a.MLPLayers = 8, 8, 1
	a.Bins, a.BinsLow, a.BinsHigh = 15, -5, 5
	a.Horizon, a.GreedySamples = 3, 4
	a.SequenceLength, a.BatchSize = 4, 2
	a.ReplayCapacity, a.LearningStarts, a.TrainEvery = 64, 8, 4

	o, err := c.Create()
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Run(); err != nil {
		t.Fatal(err)
	}
	if err := o.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := trackers.LoadData(filepath.Join(c.DataDir,
		"episode_length.bin")); err != nil {
		t.Error(err)
	}

	d := o.Agent.(*dreamer.Dreamer)
	if d.Trainer().GradSteps() == 0 {
		t.Error("agent never trained")
	}
	wm, actor, critic, target := d.Trainer().Params()
	for _, p := range []*network.Params{wm, actor, critic, target} {
		for _, name := range p.Names() {
			for _, v := range p.View().Raw(name) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("parameter %v \n\twant(finite)\n\thave(%v)",
						name, v)
				}
			}
		}
	}
	for _, name := range dreamer.Components() {
		if _, err := os.Stat(filepath.Join(c.CheckpointDir, name)); err != nil {
			t.Errorf("checkpoint %v \n\twant(saved)\n\thave(%v)", name, err)
		}
	}

	// The saved checkpoint can be resumed from
	c.ResumeDir = c.CheckpointDir
	if _, err := c.Create(); err != nil {
		t.Fatal(err)
	}
}
