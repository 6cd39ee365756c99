package dreamer

import (
	"math"
	"testing"

	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func newTestActor(t *testing.T, c *Config, spec interface{}) (*Actor,
	network.View) {
	t.Helper()
	masker, err := NewMasker(c.Masker)
	if err != nil {
		t.Fatal(err)
	}
	var actor *Actor
	switch s := spec.(type) {
	case []int:
		actor, err = NewActor(c, discreteSpec(s...), masker)
	case int:
		actor, err = NewActor(c, continuousSpec(s), masker)
	}
	if err != nil {
		t.Fatal(err)
	}
	p := network.NewParams()
	if err := actor.Init(p); err != nil {
		t.Fatal(err)
	}
	return actor, p.View()
}

// allowedRow returns a mask row of size n allowing only the given
// classes
func allowedRow(n int, classes ...int) []float64 {
	row := make([]float64, n)
	for _, c := range classes {
		row[c] = 1
	}
	return row
}

func TestDiscreteActor(t *testing.T) {
	c := testConfig()
	actor, v := newTestActor(t, c, []int{3, 2})
	if actor.Continuous() || actor.Dist() != Discrete {
		t.Fatalf("actor dist \n\twant(discrete)\n\thave(%v)", actor.Dist())
	}
	if actor.ActionSize() != 5 || actor.Variant() != Plain {
		t.Errorf("actor \n\twant(size=5, plain)\n\thave(size=%v, %v)",
			actor.ActionSize(), actor.Variant())
	}

	rng := rand.New(rand.NewSource(1))
	latent := randomDense(rng, 4, c.latentSize())
	act := actor.Act(v, latent, nil, rng, false)
	assertDims(t, "action", act.Value, 4, 5)
	assertOneHot(t, "head 0", act.Heads[0], 3)
	assertOneHot(t, "head 1", act.Heads[1], 2)

	for i, ll := range actor.LogProb(act) {
		if ll > 0 || math.IsInf(ll, 0) || math.IsNaN(ll) {
			t.Errorf("log-probability(%v) \n\twant(finite, <= 0)\n\thave(%v)",
				i, ll)
		}
	}
	maxEnt := math.Log(3) + math.Log(2)
	for i, ent := range actor.Entropy(act) {
		if ent < 0 || ent > maxEnt+1e-9 {
			t.Errorf("entropy(%v) \n\twant(in [0, %v])\n\thave(%v)", i,
				maxEnt, ent)
		}
	}

	// Greedy actions are the modes of each head
	greedy := actor.Act(v, latent, nil, rng, true)
	for h, probs := range greedy.Probs {
		for i := 0; i < 4; i++ {
			want := floatutils.Argmax(probs.RawRowView(i))
			have := floatutils.Argmax(greedy.Heads[h].RawRowView(i))
			if want != have {
				t.Errorf("greedy head %v row %v \n\twant(%v)\n\thave(%v)", h,
					i, want, have)
			}
		}
	}
}

func TestMaskedActor(t *testing.T) {
	c := testConfig()
	c.Masker = MinedojoMaskerName
	actor, v := newTestActor(t, c, []int{19, 4, 5})
	if actor.Variant() != Masked {
		t.Fatalf("variant \n\twant(masked)\n\thave(%v)", actor.Variant())
	}

	// Row 0 may only craft, row 1 may only take action types 0 or 1
	masks := map[string]*mat.Dense{
		"mask_action_type": mat.NewDense(2, 19, append(allowedRow(19, 15),
			allowedRow(19, 0, 1)...)),
		"mask_craft_smelt": mat.NewDense(2, 4, append(allowedRow(4, 2),
			allowedRow(4, 1)...)),
		"mask_equip_place": mat.NewDense(2, 5, append(allowedRow(5, 0),
			allowedRow(5, 0)...)),
		"mask_destroy": mat.NewDense(2, 5, append(allowedRow(5, 4),
			allowedRow(5, 4)...)),
	}

	rng := rand.New(rand.NewSource(2))
	for trial := 0; trial < 10; trial++ {
		latent := randomDense(rng, 2, c.latentSize())
		act := actor.Act(v, latent, masks, rng, trial%2 == 0)

		if a := floatutils.Argmax(act.Heads[0].RawRowView(0)); a != 15 {
			t.Fatalf("crafting row action type \n\twant(15)\n\thave(%v)", a)
		}
		if a := floatutils.Argmax(act.Heads[0].RawRowView(1)); a > 1 {
			t.Fatalf("masked row action type \n\twant(0 or 1)\n\thave(%v)", a)
		}
		if a := floatutils.Argmax(act.Heads[1].RawRowView(0)); a != 2 {
			t.Fatalf("crafting target \n\twant(2)\n\thave(%v)", a)
		}

		// Disallowed classes of the crafting row are exactly the -∞
		// entries
		for h, allowed := range map[int][]float64{
			0: allowedRow(19, 15),
			1: allowedRow(4, 2),
		} {
			for j, lp := range act.LogProbs[h].RawRowView(0) {
				if (allowed[j] == 0) != math.IsInf(lp, -1) {
					t.Fatalf("head %v class %v \n\twant(allowed=%v)\n\thave(%v)",
						h, j, allowed[j], lp)
				}
			}
		}

		// Rows that do not craft, equip, place or destroy have
		// unrestricted conditional heads
		for _, h := range []int{1, 2} {
			for j, lp := range act.LogProbs[h].RawRowView(1) {
				if math.IsInf(lp, -1) {
					t.Fatalf("row 1 head %v class %v \n\twant(finite)\n\thave(%v)",
						h, j, lp)
				}
			}
		}
		for j, lp := range act.LogProbs[2].RawRowView(0) {
			if math.IsInf(lp, -1) {
				t.Fatalf("row 0 head 2 class %v \n\twant(finite)\n\thave(%v)",
					j, lp)
			}
		}
	}

	// Without masks the masked actor samples freely
	act := actor.Act(v, randomDense(rng, 2, c.latentSize()), nil, rng, false)
	for h, lps := range act.LogProbs {
		for _, lp := range lps.RawRowView(0) {
			if math.IsInf(lp, -1) {
				t.Fatalf("unmasked head %v \n\twant(finite)\n\thave(%v)", h, lp)
			}
		}
	}
}

func TestApplyMaskRenormalizes(t *testing.T) {
	probs := mat.NewDense(2, 3, []float64{0.2, 0.3, 0.5, 0.2, 0.3, 0.5})
	logProbs := mat.NewDense(2, 3, nil)
	allowed := mat.NewDense(2, 3, []float64{1, 1, 0, 0, 0, 0})
	applyMask(probs, logProbs, allowed)

	want := []float64{0.4, 0.6, 0}
	for j, p := range probs.RawRowView(0) {
		if math.Abs(p-want[j]) > 1e-12 {
			t.Errorf("masked probs \n\twant(%v)\n\thave(%v)", want,
				probs.RawRowView(0))
			break
		}
	}
	if !math.IsInf(logProbs.At(0, 2), -1) {
		t.Errorf("disallowed log-probability \n\twant(-Inf)\n\thave(%v)",
			logProbs.At(0, 2))
	}
	if probs.At(1, 2) != 0.5 {
		t.Errorf("row without allowed classes \n\twant(unchanged)\n\thave(%v)",
			probs.RawRowView(1))
	}
}

func TestMaskerRequiresDiscrete(t *testing.T) {
	c := testConfig()
	if _, err := NewActor(c, continuousSpec(2), NewMinedojoMasker()); err == nil {
		t.Error("expected error for masked continuous actor")
	}
	if _, err := NewMasker("atari"); err == nil {
		t.Error("expected error for unknown masker")
	}
	if m, err := NewMasker(""); m != nil || err != nil {
		t.Errorf("empty masker \n\twant(nil, nil)\n\thave(%v, %v)", m, err)
	}
}

func TestContinuousActors(t *testing.T) {
	for _, dist := range []ActorDist{NormalDist, TanhNormal, TruncNormal} {
		c := testConfig()
		c.ActorDist = dist
		actor, v := newTestActor(t, c, 2)
		if !actor.Continuous() || actor.ActionSize() != 2 {
			t.Fatalf("%v: actor \n\twant(continuous, size=2)\n\thave(%v, %v)",
				dist, actor.Continuous(), actor.ActionSize())
		}

		rng := rand.New(rand.NewSource(3))
		latent := randomDense(rng, 5, c.latentSize())
		for _, greedy := range []bool{false, true} {
			act := actor.Act(v, latent, nil, rng, greedy)
			assertDims(t, string(dist), act.Value, 5, 2)
			assertFinite(t, string(dist), act.Value)

			if dist != NormalDist {
				r, cols := act.Value.Dims()
				for i := 0; i < r; i++ {
					for j := 0; j < cols; j++ {
						if x := act.Value.At(i, j); x < -1 || x > 1 {
							t.Errorf("%v: action \n\twant(in [-1, 1])\n\thave(%v)",
								dist, x)
						}
					}
				}
			}
			for _, ll := range actor.LogProb(act) {
				if math.IsNaN(ll) || math.IsInf(ll, 0) {
					t.Errorf("%v: log-probability \n\twant(finite)\n\thave(%v)",
						dist, ll)
				}
			}
		}

		// Standard deviations are bounded below
		act := actor.Act(v, latent, nil, rng, false)
		r, cols := act.Std.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < cols; j++ {
				if s := act.Std.At(i, j); s < c.ActorMinStd-1e-12 {
					t.Errorf("%v: std \n\twant(>= %v)\n\thave(%v)", dist,
						c.ActorMinStd, s)
				}
			}
		}
	}
}
