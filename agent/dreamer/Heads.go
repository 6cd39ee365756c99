package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/distribution"
	"github.com/samuelfneumann/godreamer/initwfn"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Head is an MLP followed by a linear output layer
type Head struct {
	mlp *network.MLP
	out *network.FC
}

// newHead returns a new Head. With zeroOut set, the output weights
// start at zero so that the initial predictions are uniform.
func newHead(name string, c *Config, in, out int, zeroOut bool) (*Head,
	error) {
	mlp, err := network.NewMLP(name, in, c.DenseUnits, c.MLPLayers,
		c.LayerNorm, c.activation(), weightInit(c))
	if err != nil {
		return nil, fmt.Errorf("newHead: %v", err)
	}

	init := weightInit(c)
	if zeroOut && c.HafnerInit {
		init, _ = initwfn.NewZeroes()
	}
	fc, err := network.NewFC(name+"/out", mlp.OutputDim(), out, true, init)
	if err != nil {
		return nil, fmt.Errorf("newHead: %v", err)
	}
	return &Head{mlp: mlp, out: fc}, nil
}

// Init registers the parameters of the Head
func (h *Head) Init(p *network.Params) error {
	if err := h.mlp.Init(p); err != nil {
		return err
	}
	return h.out.Init(p)
}

// OutputDim returns the number of outputs
func (h *Head) OutputDim() int {
	return h.out.OutputDim()
}

// Forward computes the Head numerically
func (h *Head) Forward(v network.View, x *mat.Dense) *mat.Dense {
	return h.out.Forward(v, h.mlp.Forward(v, x))
}

// Fwd adds the Head to a graph
func (h *Head) Fwd(b *network.Binder, x *G.Node) (*G.Node, error) {
	hidden, err := h.mlp.Fwd(b, x)
	if err != nil {
		return nil, err
	}
	return h.out.Fwd(b, hidden)
}

// vectorDist scores vector reconstructions
type vectorDist interface {
	Mode(pred *mat.Dense) *mat.Dense
	LogProb(pred, target *mat.Dense) []float64
	LogProbNode(pred, target *G.Node) (*G.Node, error)
}

// Decoder reconstructs observations from latent states. Images are
// predicted by a dense projection to every pixel and scored with a
// summed MSE in the preprocessed pixel space. Vectors are scored with
// a summed symlog MSE when inputs are symlog-compressed and a summed
// MSE otherwise, so the Encoder inputs double as graph targets.
type Decoder struct {
	encoder *Encoder
	image   *Head
	vector  *Head

	imageDist  *distribution.MSE
	vectorDist vectorDist
}

// NewDecoder returns a Decoder for the observations embedded by e
func NewDecoder(c *Config, e *Encoder) (*Decoder, error) {
	d := &Decoder{encoder: e}
	ch, h, w := e.ImageShape()
	if ch > 0 {
		head, err := newHead("decoder/image", c, c.latentSize(), ch*h*w,
			false)
		if err != nil {
			return nil, fmt.Errorf("newDecoder: %v", err)
		}
		d.image = head
		d.imageDist, _ = distribution.NewMSE(distribution.Sum)
	}
	if size := e.VectorSize(); size > 0 {
		head, err := newHead("decoder/vector", c, c.latentSize(), size,
			false)
		if err != nil {
			return nil, fmt.Errorf("newDecoder: %v", err)
		}
		d.vector = head
		if c.SymlogInputs {
			d.vectorDist, _ = distribution.NewSymlogMSE(distribution.Sum)
		} else {
			d.vectorDist, _ = distribution.NewMSE(distribution.Sum)
		}
	}
	return d, nil
}

// Init registers the parameters of the Decoder
func (d *Decoder) Init(p *network.Params) error {
	if d.image != nil {
		if err := d.image.Init(p); err != nil {
			return err
		}
	}
	if d.vector != nil {
		return d.vector.Init(p)
	}
	return nil
}

// Reconstruct returns the most likely observations of each latent
// state, keyed by observation name. Pixels are mapped back to
// [0, 255].
func (d *Decoder) Reconstruct(v network.View,
	latent *mat.Dense) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense)
	r, _ := latent.Dims()
	if d.image != nil {
		pixels := matutils.Apply(d.imageDist.Mode(d.image.Forward(v, latent)),
			func(x float64) float64 { return (x + 0.5) * 255 })
		_, h, w := d.encoder.ImageShape()
		offset := 0
		for i, key := range d.encoder.cnnKeys {
			size := d.encoder.imageChannels[i] * h * w
			out[key] = matutils.Columns(pixels, offset, offset+size)
			offset += size
		}
	}
	if d.vector != nil {
		vectors := d.vectorDist.Mode(d.vector.Forward(v, latent))
		offset := 0
		for i, key := range d.encoder.mlpKeys {
			size := d.encoder.vectorSizes[i]
			out[key] = matutils.Columns(vectors, offset, offset+size)
			offset += size
		}
	}
	if len(out) == 0 {
		panic(fmt.Sprintf("reconstruct: nothing to reconstruct for %v "+
			"latent states", r))
	}
	return out
}

// LogProb returns the summed log-likelihood of a batch of raw
// observations under the reconstruction of each latent state
func (d *Decoder) LogProb(v network.View, latent *mat.Dense,
	obs map[string]*mat.Dense) ([]float64, error) {
	images, err := d.encoder.images(obs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}
	vectors, err := d.encoder.vectors(obs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	r, _ := latent.Dims()
	out := make([]float64, r)
	if d.image != nil {
		pred := d.image.Forward(v, latent)
		for i, ll := range d.imageDist.LogProb(pred, images) {
			out[i] += ll
		}
	}
	if d.vector != nil {
		pred := d.vector.Forward(v, latent)
		for i, ll := range d.vectorDist.LogProb(pred, vectors) {
			out[i] += ll
		}
	}
	return out, nil
}

// LogProbNode adds the log-likelihood of the preprocessed Encoder
// inputs to a graph. The image node has shape (batch, channels,
// height, width).
func (d *Decoder) LogProbNode(b *network.Binder, latent, images,
	vectors *G.Node) (*G.Node, error) {
	var total *G.Node
	if d.image != nil {
		pred, err := d.image.Fwd(b, latent)
		if err != nil {
			return nil, fmt.Errorf("logProbNode: %v", err)
		}
		flat, err := G.Reshape(images, tensor.Shape{images.Shape()[0],
			d.image.OutputDim()})
		if err != nil {
			return nil, fmt.Errorf("logProbNode: %v", err)
		}
		if total, err = d.imageDist.LogProbNode(pred, flat); err != nil {
			return nil, err
		}
	}
	if d.vector != nil {
		pred, err := d.vector.Fwd(b, latent)
		if err != nil {
			return nil, fmt.Errorf("logProbNode: %v", err)
		}
		ll, err := d.vectorDist.LogProbNode(pred, vectors)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = ll
		} else if total, err = G.Add(total, ll); err != nil {
			return nil, fmt.Errorf("logProbNode: %v", err)
		}
	}
	return total, nil
}

// RewardHead predicts a two-hot distribution over rewards
type RewardHead struct {
	*Head
	dist *distribution.TwoHot
}

// NewRewardHead returns a new RewardHead
func NewRewardHead(c *Config) (*RewardHead, error) {
	h, err := newHead("reward", c, c.latentSize(), c.Bins, true)
	if err != nil {
		return nil, fmt.Errorf("newRewardHead: %v", err)
	}
	return &RewardHead{Head: h, dist: c.twoHot()}, nil
}

// Predict returns the expected reward of each latent state
func (r *RewardHead) Predict(v network.View, latent *mat.Dense) []float64 {
	return r.dist.Mean(r.Forward(v, latent))
}

// ContinueHead predicts a Bernoulli distribution over whether the
// episode continues past a latent state
type ContinueHead struct {
	*Head
	dist distribution.Bernoulli
}

// NewContinueHead returns a new ContinueHead
func NewContinueHead(c *Config) (*ContinueHead, error) {
	h, err := newHead("continue", c, c.latentSize(), 1, false)
	if err != nil {
		return nil, fmt.Errorf("newContinueHead: %v", err)
	}
	return &ContinueHead{Head: h}, nil
}

// Predict returns the most likely continuation flag of each latent
// state
func (c *ContinueHead) Predict(v network.View, latent *mat.Dense) []float64 {
	return c.dist.Mode(mat.Col(nil, 0, c.Forward(v, latent)))
}
