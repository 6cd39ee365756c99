package dreamer

import (
	"math"
	"testing"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/network"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

func TestAboveFreeNats(t *testing.T) {
	have := aboveFreeNats([]float64{0.5, 1, 1.5, math.NaN()}, 1)
	want := []float64{0, 0, 1, 0}
	for i := range want {
		if have[i] != want[i] {
			t.Errorf("mask \n\twant(%v)\n\thave(%v)", want, have)
			break
		}
	}
}

// The first row has a KL below the floor and the second above it. Only
// the second row may receive gradient, and both must stay finite.
func TestDistributionKLFreeNats(t *testing.T) {
	const freeNats = 1.0
	dist, err := distribution.NewOneHot(4, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	logitValues := mat.NewDense(2, 4, []float64{
		0.1, 0, 0, 0,
		5, 0, 0, 0,
	})
	uniform := mat.NewDense(2, 4, nil)
	uniform.Apply(func(_, _ int, _ float64) float64 {
		return math.Log(0.25)
	}, uniform)

	probs, logProbs := dist.Probs(logitValues)
	kl := distribution.KL(probs, logProbs, uniform)
	if kl[0] >= freeNats || kl[1] <= freeNats {
		t.Fatalf("kl \n\twant(below and above %v)\n\thave(%v)", freeNats, kl)
	}

	g := G.NewGraph()
	logits := network.Input(g, "logits", logitValues)
	probsNode, logProbsNode, err := dist.ProbsNode(logits)
	if err != nil {
		t.Fatal(err)
	}
	above := network.InputVec(g, "above", aboveFreeNats(kl, freeNats))
	floored, err := distributionKL(probsNode, logProbsNode,
		network.Input(g, "uniform", uniform), above, freeNats)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(floored))
	var lossVal G.Value
	G.Read(loss, &lossVal)
	if _, err := G.Grad(loss, logits); err != nil {
		t.Fatal(err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(logits))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	want := freeNats + kl[1]
	if have := scalar(lossVal); math.Abs(have-want) > 1e-9 {
		t.Errorf("floored kl \n\twant(%v)\n\thave(%v)", want, have)
	}

	grad, err := logits.Grad()
	if err != nil {
		t.Fatal(err)
	}
	data := grad.Data().([]float64)
	var moved bool
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("gradient \n\twant(finite)\n\thave(%v)", data)
		}
		if i < 4 && v != 0 {
			t.Errorf("gradient below floor \n\twant(0)\n\thave(%v)", data[:4])
			break
		}
		if i >= 4 && v != 0 {
			moved = true
		}
	}
	if !moved {
		t.Errorf("gradient above floor \n\twant(non-zero)\n\thave(%v)",
			data[4:])
	}
}
