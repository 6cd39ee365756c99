package dreamer

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"testing"

	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/expreplay"
	"github.com/samuelfneumann/godreamer/network"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// randomBatch returns a batch of T steps of B sequences of a "state"
// observation. Actions are one-hot over the given heads, or uniform in
// [-1, 1] when heads is nil.
func randomBatch(rng *rand.Rand, T, B, obsSize int, heads []int,
	actionSize int) *expreplay.Batch {
	batch := &expreplay.Batch{
		Observations: map[string][]*mat.Dense{"state": make([]*mat.Dense, T)},
		Actions:      make([]*mat.Dense, T),
		Rewards:      make([][]float64, T),
		Terminals:    make([][]float64, T),
		IsFirst:      make([][]float64, T),
	}
	for t := 0; t < T; t++ {
		batch.Observations["state"][t] = randomDense(rng, B, obsSize)
		batch.Actions[t] = mat.NewDense(B, actionSize, nil)
		batch.Rewards[t] = make([]float64, B)
		batch.Terminals[t] = make([]float64, B)
		batch.IsFirst[t] = make([]float64, B)
		for b := 0; b < B; b++ {
			batch.Rewards[t][b] = rng.Float64()
			row := batch.Actions[t].RawRowView(b)
			if heads == nil {
				for j := range row {
					row[j] = 2*rng.Float64() - 1
				}
			} else {
				var offset int
				for _, h := range heads {
					row[offset+rng.Intn(h)] = 1
					offset += h
				}
			}
		}
	}
	fill(batch.IsFirst[0], 1)

	// The second sequence ends at its last step
	batch.Terminals[T-1][B-1] = 1
	return batch
}

func newTestTrainer(t *testing.T, c *Config, action env.Spec) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(c, vectorSpec(3), action)
	if err != nil {
		t.Fatal(err)
	}
	return trainer
}

func assertFiniteLoss(t *testing.T, name string, values ...float64) {
	t.Helper()
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%v loss \n\twant(finite)\n\thave(%v)", name, values)
		}
	}
}

func assertFiniteParams(t *testing.T, name string,
	params ...*network.Params) {
	t.Helper()
	for _, p := range params {
		if err := finite(p); err != nil {
			t.Fatalf("%v parameters \n\twant(finite)\n\thave(%v)", name, err)
		}
	}
}

func TestTrainerTrain(t *testing.T) {
	discrete, continuous := discreteSpec(3, 2), continuousSpec(2)
	tests := []struct {
		name   string
		action env.Spec
		modify func(c *Config)
	}{
		{"discrete", discrete, func(c *Config) {}},
		{"discrete dynamics", discrete, func(c *Config) { c.ObjectiveMix = 0.5 }},
		{"trunc normal", continuous, func(c *Config) {}},
		{"normal dynamics", continuous, func(c *Config) {
			c.ActorDist = NormalDist
			c.ObjectiveMix = 0
		}},
		{"tanh normal", continuous, func(c *Config) { c.ActorDist = TanhNormal }},
	}

	for _, test := range tests {
		c := testConfig()
		c.TargetUpdateFreq = 2
		test.modify(c)
		trainer := newTestTrainer(t, c, test.action)
		heads := trainer.Actor.Heads()
		if trainer.Actor.Continuous() {
			heads = nil
		}

		_, _, critic, target := trainer.Params()
		before := target.Clone()
		rng := rand.New(rand.NewSource(1))
		for step := 0; step < 2; step++ {
			batch := randomBatch(rng, c.SequenceLength, c.BatchSize, 3, heads,
				trainer.Actor.ActionSize())
			loss, err := trainer.Train(batch)
			if err != nil {
				t.Fatalf("%v: %v", test.name, err)
			}
			wm, b := loss.WorldModel, loss.Behaviour
			assertFiniteLoss(t, test.name+" world model", wm.Total,
				wm.Observation, wm.Reward, wm.Continue, wm.KLDynamics,
				wm.KLRepresentation)
			assertFiniteLoss(t, test.name+" behaviour", b.Actor, b.Critic,
				b.Entropy, b.Return, b.Value, b.ReturnScale)
			if b.ReturnScale < 1/c.MomentsMax {
				t.Errorf("%v: return scale \n\twant(>= %v)\n\thave(%v)",
					test.name, 1/c.MomentsMax, b.ReturnScale)
			}
			if wm.KLDynamics < c.KLFreeNats-1e-9 {
				t.Errorf("%v: free nats \n\twant(>= %v)\n\thave(%v)",
					test.name, c.KLFreeNats, wm.KLDynamics)
			}
			assertFiniteParams(t, test.name, trainer.wmParams,
				trainer.actorParams, trainer.criticParams,
				trainer.targetParams)
		}
		if trainer.GradSteps() != 2 {
			t.Errorf("%v: gradient steps \n\twant(2)\n\thave(%v)", test.name,
				trainer.GradSteps())
		}

		// The target moved after the second step, toward the critic
		for _, name := range target.Names() {
			old, now := before.View().Raw(name), target.View().Raw(name)
			online := critic.View().Raw(name)
			for i := range now {
				want := c.CriticTau*online[i] + (1-c.CriticTau)*old[i]
				if math.Abs(now[i]-want) > 1e-9 {
					t.Fatalf("%v: target %v \n\twant(%v)\n\thave(%v)",
						test.name, name, want, now[i])
				}
			}
		}
	}
}

func TestTrainerDefaultFreeNats(t *testing.T) {
	c := testConfig()
	if c.KLFreeNats != DefaultConfig().KLFreeNats || c.KLFreeNats <= 0 {
		t.Fatalf("free nats \n\twant(%v)\n\thave(%v)",
			DefaultConfig().KLFreeNats, c.KLFreeNats)
	}
	trainer := newTestTrainer(t, c, discreteSpec(3, 2))
	rng := rand.New(rand.NewSource(3))
	for step := 0; step < 5; step++ {
		batch := randomBatch(rng, c.SequenceLength, c.BatchSize, 3,
			[]int{3, 2}, 5)
		loss, err := trainer.Train(batch)
		if err != nil {
			t.Fatalf("step %v: %v", step, err)
		}
		b := loss.Behaviour
		assertFiniteLoss(t, "behaviour", b.Return, b.Value, b.ReturnScale)
		assertFiniteParams(t, "trained", trainer.wmParams,
			trainer.actorParams, trainer.criticParams, trainer.targetParams)
	}

	// Imagination from the trained parameters predicts finite rewards
	// and values
	wm, actor, critic, _ := trainer.Params()
	recurrent, stoch := trainer.WorldModel.RSSM.InitialState(wm.View(), 4)
	traj := Imagine(trainer.WorldModel, trainer.Actor, wm.View(),
		actor.View(), stoch, recurrent, c.Horizon, c.Gamma, rng)
	for step, rewards := range traj.Rewards {
		assertFiniteLoss(t, "imagined reward", rewards...)
		assertFiniteLoss(t, "imagined discount", traj.Discounts[step]...)
	}
	for _, latent := range traj.Latents {
		assertFiniteLoss(t, "imagined value",
			trainer.Critic.Value(critic.View(), latent)...)
	}
}

func TestTargetsBaseline(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3))
	wm, actor, critic, target := trainer.Params()
	for _, name := range critic.Names() {
		raw := critic.View().Raw(name)
		for i := range raw {
			raw[i] += 0.1
		}
	}

	rng := rand.New(rand.NewSource(9))
	recurrent, stoch := trainer.WorldModel.RSSM.InitialState(wm.View(), 3)
	traj := Imagine(trainer.WorldModel, trainer.Actor, wm.View(),
		actor.View(), stoch, recurrent, c.Horizon, c.Gamma, rng)
	tgt, err := trainer.behaviour.targets(traj, critic.View(), target.View(),
		[]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}

	for step := 0; step < traj.Horizon(); step++ {
		online := trainer.Critic.Value(critic.View(), traj.Latents[step])
		slow := trainer.Critic.Value(target.View(), traj.Latents[step])
		for i := range online {
			want := (tgt.returns[step][i] - online[i]) / tgt.scale
			if math.Abs(tgt.adv[step][i]-want) > 1e-9 {
				t.Fatalf("advantage \n\twant(%v)\n\thave(%v)", want,
					tgt.adv[step][i])
			}
			if tgt.values[step][i] != slow[i] {
				t.Fatalf("bootstrap value \n\twant(%v)\n\thave(%v)", slow[i],
					tgt.values[step][i])
			}
		}
	}
}

func TestTrainerRejectsNaNReward(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3))
	rng := rand.New(rand.NewSource(8))
	batch := randomBatch(rng, c.SequenceLength, c.BatchSize, 3, []int{3}, 3)
	batch.Rewards[1][0] = math.NaN()
	if _, err := trainer.Train(batch); err == nil {
		t.Error("expected error for NaN reward")
	}
}

func TestFinite(t *testing.T) {
	p := network.NewParams()
	err := p.AddTensor("w", tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{1, 2, 3, 4})))
	if err != nil {
		t.Fatal(err)
	}
	if err := finite(p); err != nil {
		t.Errorf("finite parameters \n\twant(nil)\n\thave(%v)", err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		p.View().Raw("w")[3] = v
		if err := finite(p); err == nil {
			t.Errorf("parameter %v \n\twant(error)\n\thave(nil)", v)
		}
	}
}

func TestTrainerMetrics(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3))
	rng := rand.New(rand.NewSource(4))
	batch := randomBatch(rng, c.SequenceLength, c.BatchSize, 3, []int{3}, 3)
	if _, err := trainer.Train(batch); err != nil {
		t.Fatal(err)
	}

	families, err := trainer.Metrics().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				found[f.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				found[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	if v, ok := found["dreamer_gradient_steps_total"]; !ok || v != 1 {
		t.Errorf("gradient steps metric \n\twant(1)\n\thave(%v, %v)", v, ok)
	}
	for _, name := range []string{"dreamer_world_model_loss",
		"dreamer_actor_loss", "dreamer_critic_loss", "dreamer_return_scale"} {
		if _, ok := found[name]; !ok {
			t.Errorf("metric %v \n\twant(present)\n\thave(missing)", name)
		}
	}
}

func TestUpdateTarget(t *testing.T) {
	newParams := func(values ...float64) *network.Params {
		p := network.NewParams()
		err := p.AddTensor("w", tensor.New(tensor.WithShape(2, 2),
			tensor.WithBacking(values)))
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	online := newParams(1, 2, 3, 4)
	target := newParams(0, 0, 0, 0)
	if err := UpdateTarget(target, online, 0.5); err != nil {
		t.Fatal(err)
	}
	want := []float64{0.5, 1, 1.5, 2}
	for i, v := range target.View().Raw("w") {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Errorf("polyak \n\twant(%v)\n\thave(%v)", want,
				target.View().Raw("w"))
			break
		}
	}

	if err := UpdateTarget(target, online, 1); err != nil {
		t.Fatal(err)
	}
	for i, v := range target.View().Raw("w") {
		if v != online.View().Raw("w")[i] {
			t.Errorf("copy \n\twant(%v)\n\thave(%v)", online.View().Raw("w"),
				target.View().Raw("w"))
			break
		}
	}

	other := network.NewParams()
	if err := UpdateTarget(other, online, 0.5); err == nil {
		t.Error("expected error for incompatible parameters")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3, 2))
	rng := rand.New(rand.NewSource(5))
	batch := randomBatch(rng, c.SequenceLength, c.BatchSize, 3, []int{3, 2}, 5)
	if _, err := trainer.Train(batch); err != nil {
		t.Fatal(err)
	}

	other := *c
	other.Seed = 99
	loaded := newTestTrainer(t, &other, discreteSpec(3, 2))
	for _, name := range Components() {
		var buf bytes.Buffer
		if err := trainer.Save(&buf, name); err != nil {
			t.Fatal(err)
		}
		if err := loaded.Load(&buf, name); err != nil {
			t.Fatal(err)
		}
	}
	if err := trainer.Save(&bytes.Buffer{}, "replay"); err == nil {
		t.Error("expected error for unknown component")
	}

	low, high := trainer.behaviour.Moments().State()
	lLow, lHigh := loaded.behaviour.Moments().State()
	if low != lLow || high != lHigh {
		t.Errorf("moments \n\twant(%v, %v)\n\thave(%v, %v)", low, high, lLow,
			lHigh)
	}

	// Greedy inference is identical after loading
	obs := map[string]*mat.Dense{"state": randomDense(rng, 2, 3)}
	p1, err := trainer.NewPlayer(2)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := loaded.NewPlayer(2)
	if err != nil {
		t.Fatal(err)
	}
	for step := 0; step < 3; step++ {
		a1, err := p1.GreedyAction(obs, nil)
		if err != nil {
			t.Fatal(err)
		}
		a2, err := p2.GreedyAction(obs, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !mat.Equal(a1, a2) {
			t.Fatalf("greedy action \n\twant(%v)\n\thave(%v)", mat.Formatted(a1),
				mat.Formatted(a2))
		}
	}
	_, r1, s1 := p1.State()
	_, r2, s2 := p2.State()
	if !mat.Equal(r1, r2) || !mat.Equal(s1, s2) {
		t.Error("player states differ after loading")
	}

	// Loaded parameters are training-ready
	if _, err := loaded.Train(batch); err != nil {
		t.Fatal(err)
	}
}

func TestCheckpointDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "dreamer")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := testConfig()
	trainer := newTestTrainer(t, c, continuousSpec(2))
	if err := trainer.SaveDir(dir); err != nil {
		t.Fatal(err)
	}

	other := *c
	other.Seed = 7
	loaded := newTestTrainer(t, &other, continuousSpec(2))
	if err := loaded.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	_, actor, _, _ := trainer.Params()
	_, lActor, _, _ := loaded.Params()
	for _, name := range actor.Names() {
		a, b := actor.View().Raw(name), lActor.View().Raw(name)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("parameter %v \n\twant(%v)\n\thave(%v)", name, a[i], b[i])
			}
		}
	}

	if err := loaded.LoadDir(dir + "-missing"); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}

func TestPlayerInitStates(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3, 2))
	player, err := trainer.NewPlayer(3)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(6))
	obs := map[string]*mat.Dense{"state": randomDense(rng, 3, 3)}
	for step := 0; step < 2; step++ {
		if _, err := player.ExplorationAction(obs, nil); err != nil {
			t.Fatal(err)
		}
	}
	actions, recurrent, stoch := player.State()

	player.InitStates([]int{1})
	nActions, nRecurrent, nStoch := player.State()
	for _, i := range []int{0, 2} {
		if !mat.Equal(actions.RowView(i), nActions.RowView(i)) ||
			!mat.Equal(recurrent.RowView(i), nRecurrent.RowView(i)) ||
			!mat.Equal(stoch.RowView(i), nStoch.RowView(i)) {
			t.Errorf("row %v \n\twant(unchanged)\n\thave(modified)", i)
		}
	}

	wm, _, _, _ := trainer.Params()
	_, init := trainer.WorldModel.RSSM.InitialState(wm.View(), 1)
	if !mat.Equal(nStoch.RowView(1), init.RowView(0)) {
		t.Errorf("reset stoch \n\twant(%v)\n\thave(%v)", init.RawRowView(0),
			nStoch.RawRowView(1))
	}
	for _, row := range [][]float64{nActions.RawRowView(1),
		nRecurrent.RawRowView(1)} {
		for _, x := range row {
			if x != 0 {
				t.Fatalf("reset row \n\twant(zeros)\n\thave(%v)", row)
			}
		}
	}

	if _, err := player.GreedyAction(map[string]*mat.Dense{
		"state": randomDense(rng, 2, 3),
	}, nil); err == nil {
		t.Error("expected error for wrong number of environments")
	}
	if _, err := trainer.NewPlayer(0); err == nil {
		t.Error("expected error for zero environments")
	}
}

func TestPlayerExploration(t *testing.T) {
	c := testConfig()
	c.ExplAmount = 0.5
	c.ExplDecay = 0.1
	c.ExplMin = 0.2
	trainer := newTestTrainer(t, c, continuousSpec(2))
	player, err := trainer.NewPlayer(2)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(7))
	want := []float64{0.5, 0.4, 0.3, 0.2, 0.2}
	for step, eps := range want {
		if have := player.Epsilon(); math.Abs(have-eps) > 1e-12 {
			t.Errorf("epsilon at %v \n\twant(%v)\n\thave(%v)", step, eps, have)
		}
		obs := map[string]*mat.Dense{"state": randomDense(rng, 2, 3)}
		action, err := player.ExplorationAction(obs, nil)
		if err != nil {
			t.Fatal(err)
		}
		r, cols := action.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < cols; j++ {
				if x := action.At(i, j); x < -1 || x > 1 {
					t.Errorf("exploration action \n\twant(in [-1, 1])\n\thave(%v)", x)
				}
			}
		}
	}
}

func TestPlayerRequiresSync(t *testing.T) {
	c := testConfig()
	trainer := newTestTrainer(t, c, discreteSpec(3))
	player, err := NewPlayer(c, trainer.WorldModel, trainer.Actor, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	obs := map[string]*mat.Dense{"state": mat.NewDense(1, 3, nil)}
	if _, err := player.GreedyAction(obs, nil); err == nil {
		t.Error("expected error before synchronization")
	}
	trainer.Sync(player)
	if _, err := player.GreedyAction(obs, nil); err != nil {
		t.Error(err)
	}
}
