package network

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/initwfn"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Conv2D implements a bias-free 2D convolution over NCHW images
// followed by an activation. Numerically, images are stored one per
// row of a matrix in row-major (C, H, W) order.
type Conv2D struct {
	Name                 string
	InChannels, Channels int
	Height, Width        int
	Kernel, Stride, Pad  int

	act  *Activation
	init *initwfn.InitWFn
}

// NewConv2D returns a new convolutional layer over images of the given
// number of channels, height and width
func NewConv2D(name string, inChannels, channels, height, width, kernel,
	stride, pad int, act *Activation, init *initwfn.InitWFn) (*Conv2D,
	error) {
	c := &Conv2D{
		Name:       name,
		InChannels: inChannels,
		Channels:   channels,
		Height:     height,
		Width:      width,
		Kernel:     kernel,
		Stride:     stride,
		Pad:        pad,
		act:        act,
		init:       init,
	}
	if inChannels <= 0 || channels <= 0 {
		return nil, fmt.Errorf("newConv2D: %v must have positive channels "+
			"\n\twant(>0)\n\thave(in=%v, out=%v)", name, inChannels, channels)
	}
	if oh, ow := c.OutputShape(); oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("newConv2D: %v input %vx%v too small for "+
			"kernel %v", name, height, width, kernel)
	}
	return c, nil
}

// OutputShape returns the spatial size of the output feature maps
func (c *Conv2D) OutputShape() (height, width int) {
	height = (c.Height+2*c.Pad-c.Kernel)/c.Stride + 1
	width = (c.Width+2*c.Pad-c.Kernel)/c.Stride + 1
	return
}

// OutputDim returns the number of output features per image
func (c *Conv2D) OutputDim() int {
	h, w := c.OutputShape()
	return c.Channels * h * w
}

func (c *Conv2D) filter() string { return c.Name + "/filter" }

// Init registers the convolution filter
func (c *Conv2D) Init(p *Params) error {
	return p.Add(c.filter(), c.init, c.Channels, c.InChannels, c.Kernel,
		c.Kernel)
}

// Forward computes the convolution numerically
func (c *Conv2D) Forward(v View, x *mat.Dense) *mat.Dense {
	batch, cols := x.Dims()
	if want := c.InChannels * c.Height * c.Width; cols != want {
		panic(fmt.Sprintf("forward: illegal input size for %v \n\twant(%v)"+
			"\n\thave(%v)", c.Name, want, cols))
	}
	filter := v.Raw(c.filter())
	oh, ow := c.OutputShape()
	k := c.Kernel

	out := mat.NewDense(batch, c.OutputDim(), nil)
	for b := 0; b < batch; b++ {
		img := x.RawRowView(b)
		row := out.RawRowView(b)
		for o := 0; o < c.Channels; o++ {
			for i := 0; i < oh; i++ {
				for j := 0; j < ow; j++ {
					var sum float64
					for ch := 0; ch < c.InChannels; ch++ {
						for ki := 0; ki < k; ki++ {
							y := i*c.Stride - c.Pad + ki
							if y < 0 || y >= c.Height {
								continue
							}
							for kj := 0; kj < k; kj++ {
								xx := j*c.Stride - c.Pad + kj
								if xx < 0 || xx >= c.Width {
									continue
								}
								w := filter[((o*c.InChannels+ch)*k+ki)*k+kj]
								sum += w * img[(ch*c.Height+y)*c.Width+xx]
							}
						}
					}
					row[(o*oh+i)*ow+j] = c.act.Apply(sum)
				}
			}
		}
	}
	return out
}

// Fwd adds the convolution to the computational graph. The input node
// must have shape (batch, channels, height, width).
func (c *Conv2D) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	out, err := G.Conv2d(
		x,
		b.Node(c.filter()),
		tensor.Shape{c.Kernel, c.Kernel},
		[]int{c.Pad, c.Pad},
		[]int{c.Stride, c.Stride},
		[]int{1, 1},
	)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v: %v", c.Name, err)
	}
	return c.act.Fwd(out)
}

// CNN is a stack of Conv2D layers whose output is flattened
type CNN struct {
	layers []*Conv2D
}

// NewCNN returns a stack of convolutions with kernel 4, stride 2 and
// padding 1, halving the spatial size at every layer
func NewCNN(name string, inChannels, height, width int, channels []int,
	act *Activation, init *initwfn.InitWFn) (*CNN, error) {
	cnn := &CNN{}
	in, h, w := inChannels, height, width
	for i, ch := range channels {
		layer, err := NewConv2D(fmt.Sprintf("%v/%d", name, i), in, ch, h, w,
			4, 2, 1, act, init)
		if err != nil {
			return nil, fmt.Errorf("newCNN: %v", err)
		}
		cnn.layers = append(cnn.layers, layer)
		in = ch
		h, w = layer.OutputShape()
	}
	return cnn, nil
}

// Init registers the parameters of all layers
func (c *CNN) Init(p *Params) error {
	for _, layer := range c.layers {
		if err := layer.Init(p); err != nil {
			return err
		}
	}
	return nil
}

// OutputDim returns the size of the flattened output
func (c *CNN) OutputDim() int {
	return c.layers[len(c.layers)-1].OutputDim()
}

// Forward computes the stack numerically
func (c *CNN) Forward(v View, x *mat.Dense) *mat.Dense {
	for _, layer := range c.layers {
		x = layer.Forward(v, x)
	}
	return x
}

// Fwd adds the stack to the computational graph. The input node has
// shape (batch, channels, height, width) and the output node has shape
// (batch, OutputDim()).
func (c *CNN) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	var err error
	for _, layer := range c.layers {
		if x, err = layer.Fwd(b, x); err != nil {
			return nil, err
		}
	}
	batch := x.Shape()[0]
	return G.Reshape(x, tensor.Shape{batch, c.OutputDim()})
}
