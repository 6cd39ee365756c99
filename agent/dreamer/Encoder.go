package dreamer

import (
	"fmt"
	"sort"

	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/initwfn"
	"github.com/samuelfneumann/godreamer/network"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// maxStages is the largest number of convolutions in the image branch
const maxStages = 4

// Encoder maps a dictionary of observations to a fixed-size embedding.
// Images under the cnn keys are stacked along their channels and
// passed through a CNN; vectors under the mlp keys are concatenated and
// passed through an MLP. The embedding is the concatenation of both
// branches, and either branch may be absent.
type Encoder struct {
	cnnKeys []string
	mlpKeys []string
	symlog  bool

	channels, height, width int
	vectorSize              int
	imageChannels           []int
	vectorSizes             []int

	cnn *network.CNN
	mlp *network.MLP
}

// weightInit returns the initializer for hidden weights
func weightInit(c *Config) *initwfn.InitWFn {
	var init *initwfn.InitWFn
	var err error
	if c.HafnerInit {
		init, err = initwfn.NewGlorotN(1.0)
	} else {
		init, err = initwfn.NewGlorotU(1.0)
	}
	if err != nil {
		panic(fmt.Sprintf("weightInit: %v", err))
	}
	return init
}

// NewEncoder returns a new Encoder for observations described by spec
func NewEncoder(c *Config, spec map[string]env.Spec) (*Encoder, error) {
	if len(c.CNNKeys) == 0 && len(c.MLPKeys) == 0 {
		return nil, &ConfigError{"cnn_keys", "no observation keys " +
			"configured for either the cnn or mlp encoder"}
	}
	e := &Encoder{
		cnnKeys: sortedCopy(c.CNNKeys),
		mlpKeys: sortedCopy(c.MLPKeys),
		symlog:  c.SymlogInputs,
	}

	for _, key := range e.cnnKeys {
		s, ok := spec[key]
		if !ok {
			return nil, &ConfigError{"cnn_keys", fmt.Sprintf("no "+
				"observation named %q", key)}
		}
		if !s.IsImage() {
			return nil, &ConfigError{"cnn_keys", fmt.Sprintf("observation "+
				"%q is not an image", key)}
		}
		ch, h, w := int(s.Shape.AtVec(0)), int(s.Shape.AtVec(1)),
			int(s.Shape.AtVec(2))
		if e.channels > 0 && (h != e.height || w != e.width) {
			return nil, &ConfigError{"cnn_keys", fmt.Sprintf("image %q "+
				"has size %vx%v, other images have %vx%v", key, h, w,
				e.height, e.width)}
		}
		e.channels += ch
		e.imageChannels = append(e.imageChannels, ch)
		e.height, e.width = h, w
	}
	for _, key := range e.mlpKeys {
		s, ok := spec[key]
		if !ok {
			return nil, &ConfigError{"mlp_keys", fmt.Sprintf("no "+
				"observation named %q", key)}
		}
		if s.IsImage() {
			return nil, &ConfigError{"mlp_keys", fmt.Sprintf("observation "+
				"%q is an image", key)}
		}
		e.vectorSize += s.Size()
		e.vectorSizes = append(e.vectorSizes, s.Size())
	}

	init := weightInit(c)
	act := c.activation()
	if e.channels > 0 {
		var channels []int
		for stage, size := 0, e.height; stage < maxStages &&
			(stage == 0 || size > 4); stage++ {
			channels = append(channels, (1<<stage)*c.CNNMultiplier)
			size /= 2
		}
		cnn, err := network.NewCNN("encoder/cnn", e.channels, e.height,
			e.width, channels, act, init)
		if err != nil {
			return nil, fmt.Errorf("newEncoder: %v", err)
		}
		e.cnn = cnn
	}
	if e.vectorSize > 0 {
		mlp, err := network.NewMLP("encoder/mlp", e.vectorSize, c.DenseUnits,
			c.MLPLayers, c.LayerNorm, act, init)
		if err != nil {
			return nil, fmt.Errorf("newEncoder: %v", err)
		}
		e.mlp = mlp
	}
	return e, nil
}

func sortedCopy(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return out
}

// Init registers the parameters of the Encoder
func (e *Encoder) Init(p *network.Params) error {
	if e.cnn != nil {
		if err := e.cnn.Init(p); err != nil {
			return err
		}
	}
	if e.mlp != nil {
		return e.mlp.Init(p)
	}
	return nil
}

// OutputDim returns the size of the embedding
func (e *Encoder) OutputDim() int {
	var dim int
	if e.cnn != nil {
		dim += e.cnn.OutputDim()
	}
	if e.mlp != nil {
		dim += e.mlp.OutputDim()
	}
	return dim
}

// ImageShape returns the shape of the stacked images, which is all
// zero when the Encoder has no image branch
func (e *Encoder) ImageShape() (channels, height, width int) {
	return e.channels, e.height, e.width
}

// VectorSize returns the size of the concatenated vectors
func (e *Encoder) VectorSize() int {
	return e.vectorSize
}

// Inputs preprocesses a batch of observations, stored one sample per
// row, into the inputs of the two branches. Pixels are rescaled from
// [0, 255] to [-0.5, 0.5] and vectors are symlog-compressed if
// configured. A branch that is absent has a nil input.
func (e *Encoder) Inputs(obs map[string]*mat.Dense) (images,
	vectors *mat.Dense, err error) {
	if images, err = e.images(obs); err != nil {
		return nil, nil, fmt.Errorf("inputs: %v", err)
	}
	if vectors, err = e.vectors(obs); err != nil {
		return nil, nil, fmt.Errorf("inputs: %v", err)
	}
	if vectors != nil && e.symlog {
		vectors = matutils.Symlog(vectors)
	}
	return images, vectors, nil
}

// images returns the rescaled, stacked images of a batch
func (e *Encoder) images(obs map[string]*mat.Dense) (*mat.Dense, error) {
	if e.cnn == nil {
		return nil, nil
	}
	stack, err := gather(obs, e.cnnKeys)
	if err != nil {
		return nil, err
	}

	// Images are stored in (C, H, W) order, so stacking rows
	// concatenates channels
	images := matutils.Apply(matutils.HStack(stack...),
		func(x float64) float64 { return x/255 - 0.5 })
	if _, c := images.Dims(); c != e.channels*e.height*e.width {
		return nil, fmt.Errorf("illegal image size \n\twant(%v)\n\thave(%v)",
			e.channels*e.height*e.width, c)
	}
	return images, nil
}

// vectors returns the raw, concatenated vectors of a batch
func (e *Encoder) vectors(obs map[string]*mat.Dense) (*mat.Dense, error) {
	if e.mlp == nil {
		return nil, nil
	}
	stack, err := gather(obs, e.mlpKeys)
	if err != nil {
		return nil, err
	}
	vectors := matutils.HStack(stack...)
	if _, c := vectors.Dims(); c != e.vectorSize {
		return nil, fmt.Errorf("illegal vector size \n\twant(%v)\n\thave(%v)",
			e.vectorSize, c)
	}
	return vectors, nil
}

func gather(obs map[string]*mat.Dense, keys []string) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(keys))
	for i, key := range keys {
		o, ok := obs[key]
		if !ok {
			return nil, fmt.Errorf("missing observation %q", key)
		}
		out[i] = o
	}
	return out, nil
}

// Forward computes the embedding of preprocessed inputs numerically
func (e *Encoder) Forward(v network.View, images,
	vectors *mat.Dense) *mat.Dense {
	var imageOut, vectorOut *mat.Dense
	if e.cnn != nil {
		imageOut = e.cnn.Forward(v, images)
	}
	if e.mlp != nil {
		vectorOut = e.mlp.Forward(v, vectors)
	}
	return matutils.HStack(imageOut, vectorOut)
}

// Encode preprocesses and embeds a batch of observations
func (e *Encoder) Encode(v network.View,
	obs map[string]*mat.Dense) (*mat.Dense, error) {
	images, vectors, err := e.Inputs(obs)
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}
	return e.Forward(v, images, vectors), nil
}

// Fwd adds the embedding to a graph. The image node has shape
// (batch, channels, height, width) and the vector node has shape
// (batch, VectorSize()); a node is nil when its branch is absent.
func (e *Encoder) Fwd(b *network.Binder, images,
	vectors *G.Node) (*G.Node, error) {
	var outs G.Nodes
	if e.cnn != nil {
		out, err := e.cnn.Fwd(b, images)
		if err != nil {
			return nil, fmt.Errorf("fwd: %v", err)
		}
		outs = append(outs, out)
	}
	if e.mlp != nil {
		out, err := e.mlp.Fwd(b, vectors)
		if err != nil {
			return nil, fmt.Errorf("fwd: %v", err)
		}
		outs = append(outs, out)
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return G.Concat(1, outs...)
}
