package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/network"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Critic predicts a two-hot distribution over the value of latent
// states. The same Critic describes both the online critic and its
// target; only the parameters they are evaluated with differ.
type Critic struct {
	*Head
	dist *distribution.TwoHot
}

// NewCritic returns a new Critic
func NewCritic(c *Config) (*Critic, error) {
	h, err := newHead("critic", c, c.latentSize(), c.Bins, true)
	if err != nil {
		return nil, fmt.Errorf("newCritic: %v", err)
	}
	return &Critic{Head: h, dist: c.twoHot()}, nil
}

// Value returns the expected value of each latent state
func (c *Critic) Value(v network.View, latent *mat.Dense) []float64 {
	return c.dist.Mean(c.Forward(v, latent))
}

// ValueNode adds the expected value of latent states to a graph
func (c *Critic) ValueNode(b *network.Binder, latent *G.Node) (*G.Node,
	error) {
	logits, err := c.Fwd(b, latent)
	if err != nil {
		return nil, fmt.Errorf("valueNode: %v", err)
	}
	return c.dist.MeanNode(logits)
}

// UpdateTarget moves the target parameters toward the online
// parameters by target ← τ·online + (1-τ)·target. The new target is
// swapped in atomically, so a concurrent reader never sees a partial
// update.
func UpdateTarget(target, online *network.Params, tau float64) error {
	if err := network.Polyak(target, online, tau); err != nil {
		return fmt.Errorf("updateTarget: %v", err)
	}
	return nil
}
