// Package cartpole implements the Cartpole classic control environment
// with both proprioceptive and pixel observations
package cartpole

import (
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/environment/render"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Bounds (+/-) on state variabels
	PositionBounds        float64 = 4.8
	SpeedBounds           float64 = math.MaxFloat64
	AngleBounds           float64 = math.Pi
	AngularVelocityBounds float64 = math.MaxFloat64

	// Discrete Actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 2

	// Observation keys
	StateKey = "state"
	RGBKey   = "rgb"
)

// Cartpole implements the classic control environment Cartpole. In
// this environment, a pole is attached to a cart, which can move
// horizontally. The agent must get the pole to face straight up for
// as long as possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. All state features are
// bounded by the constants defined in this file. Observations hold
// the state features under the "state" key and, if the environment
// was created with a positive image size, a rendering of the cart
// under the "rgb" key.
//
// Actions are discrete and consist of the force applied to the cart:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Do nothing
//	  2		Accelerate right
type Cartpole struct {
	env.Task
	lastStep              ts.TimeStep
	state                 *mat.VecDense
	discount              float64
	imageSize             int
	positionBounds        r1.Interval
	speedBounds           r1.Interval
	angleBounds           r1.Interval
	angularVelocityBounds r1.Interval
}

// New constructs a new Cartpole environment. If imageSize > 0,
// observations include imageSize x imageSize RGB renderings.
func New(t env.Task, discount float64, imageSize int) (*Cartpole,
	ts.TimeStep) {
	cartpole := &Cartpole{
		Task:                  t,
		discount:              discount,
		imageSize:             imageSize,
		positionBounds:        r1.Interval{Min: -PositionBounds, Max: PositionBounds},
		speedBounds:           r1.Interval{Min: -SpeedBounds, Max: SpeedBounds},
		angleBounds:           r1.Interval{Min: -AngleBounds, Max: AngleBounds},
		angularVelocityBounds: r1.Interval{Min: -AngularVelocityBounds, Max: AngularVelocityBounds},
	}
	return cartpole, cartpole.Reset()
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (c *Cartpole) Reset() ts.TimeStep {
	state := c.Start()
	if err := c.validateState(state); err != nil {
		panic(fmt.Sprintf("reset: %v", err))
	}
	c.state = state

	c.lastStep = ts.New(ts.First, 0, c.discount, c.observe(), 0)
	return c.lastStep
}

// LastTimeStep returns the last TimeStep taken in the environment
func (c *Cartpole) LastTimeStep() ts.TimeStep {
	return c.lastStep
}

// ActionSpec returns the action specification of the environment
func (c *Cartpole) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MinDiscreteAction)})
	upperBound := mat.NewVecDense(1, []float64{float64(MaxDiscreteAction)})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound, env.Discrete)
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Cartpole) ObservationSpec() map[string]env.Spec {
	shape := mat.NewVecDense(4, nil)

	lower := []float64{c.positionBounds.Min, c.speedBounds.Min,
		c.angleBounds.Min, c.angularVelocityBounds.Min}
	lowerBound := mat.NewVecDense(4, lower)

	upper := []float64{c.positionBounds.Max, c.speedBounds.Max,
		c.angleBounds.Max, c.angularVelocityBounds.Max}
	upperBound := mat.NewVecDense(4, upper)

	specs := map[string]env.Spec{
		StateKey: env.NewSpec(shape, env.Observation, lowerBound, upperBound,
			env.Continuous),
	}
	if c.imageSize > 0 {
		specs[RGBKey] = env.NewImageSpec(render.Channels, c.imageSize,
			c.imageSize)
	}
	return specs
}

// DiscountSpec returns the discounting specification of the environment
func (c *Cartpole) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{c.discount})
	upperBound := mat.NewVecDense(1, []float64{c.discount})

	return env.NewSpec(shape, env.Discount, lowerBound, upperBound,
		env.Continuous)
}

// Step takes one environmental step given action a and returns the next
// state as a timestep.TimeStep and a bool indicating whether or not the
// episode has ended
func (c *Cartpole) Step(a *mat.VecDense) (ts.TimeStep, bool) {
	// Discrete action in {0, 1, 2}
	action := int(a.AtVec(0))
	if action < MinDiscreteAction || action > MaxDiscreteAction {
		panic(fmt.Sprintf("illegal action %v ∉ (0, 1, 2)", action))
	}

	x, xDot := c.state.AtVec(0), c.state.AtVec(1)
	th, thDot := c.state.AtVec(2), c.state.AtVec(3)

	// Magnify the action force in the appropriate direction
	force := ForceMag * float64(action-1)

	// Calculate physical variables to determine next state
	cosTheta := math.Cos(th)
	sinTheta := math.Sin(th)

	poleMassOverLength := PoleMass / HalfPoleLength

	temp := (force + poleMassOverLength*thDot*thDot*sinTheta) / TotalMass
	thAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - poleMassOverLength*thAcc*cosTheta/TotalMass

	// Update state variables using Euler kinematic integration
	x += (Dt * xDot)
	x = floatutils.ClipInterval(x, c.positionBounds)

	xDot += (Dt * xAcc)

	th += (Dt * thDot)
	th = normalizeAngle(th, c.angleBounds)

	thDot += (Dt * thAcc)

	// Create the new timestep
	newState := mat.NewVecDense(4, []float64{x, xDot, th, thDot})
	reward := c.GetReward(c.state, a, newState)
	c.state = newState
	nextStep := ts.New(ts.Mid, reward, c.discount, c.observe(),
		c.lastStep.Number+1)

	// Check if the step ends the episode
	c.End(&nextStep, newState)

	c.lastStep = nextStep
	return nextStep, nextStep.Last()
}

// observe returns the observation of the current state
func (c *Cartpole) observe() ts.Observation {
	obs := ts.Observation{StateKey: mat.VecDenseCopyOf(c.state)}
	if c.imageSize > 0 {
		obs[RGBKey] = c.render()
	}
	return obs
}

// render draws the cart and pole from the current state
func (c *Cartpole) render() *mat.VecDense {
	size := float64(c.imageSize)
	dc := gg.NewContext(c.imageSize, c.imageSize)
	dc.SetColor(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	dc.Clear()

	scale := size / (2 * PositionBounds)
	cartX := (c.state.AtVec(0) + PositionBounds) * scale
	cartY := size * 0.75
	cartW, cartH := size/8, size/16

	// Track
	dc.SetColor(color.RGBA{R: 0, G: 0, B: 0, A: 255})
	dc.SetLineWidth(1.0)
	dc.DrawLine(0, cartY, size, cartY)
	dc.Stroke()

	// Cart
	dc.DrawRectangle(cartX-cartW/2, cartY-cartH/2, cartW, cartH)
	dc.Fill()

	// Pole, with angle 0 pointing straight up
	poleLength := 2 * HalfPoleLength * scale
	th := c.state.AtVec(2)
	dc.SetColor(color.RGBA{R: 204, G: 153, B: 102, A: 255})
	dc.SetLineWidth(math.Max(1, size/32))
	dc.DrawLine(cartX, cartY, cartX+poleLength*math.Sin(th),
		cartY-poleLength*math.Cos(th))
	dc.Stroke()

	return render.ToCHW(dc)
}

// validateState ensures that a state observation is valid and between
// the physical bounds of the Cartpole environment
func (c *Cartpole) validateState(state mat.Vector) error {
	bounds := []r1.Interval{c.positionBounds, c.speedBounds, c.angleBounds,
		c.angularVelocityBounds}
	names := []string{"position", "speed", "angle", "angular velocity"}
	for i := range bounds {
		if v := state.AtVec(i); v > bounds[i].Max || v < bounds[i].Min {
			return fmt.Errorf("%v %v is not within bounds %v", names[i], v,
				bounds[i])
		}
	}
	return nil
}

func (c *Cartpole) String() string {
	msg := "Cartpole  |  Position: %v  | Speed: %v  |  Angle: %v" +
		"  |  Angular Velocity: %v"

	position, speed := c.state.AtVec(0), c.state.AtVec(1)
	angle, velocity := c.state.AtVec(2), c.state.AtVec(3)

	return fmt.Sprintf(msg, position, speed, angle, velocity)
}

// normalizeAngle normalizes the pole angle to the appropriate limits
func normalizeAngle(th float64, angleBounds r1.Interval) float64 {
	if angleBounds.Max != -angleBounds.Min {
		panic("angle bounds should be centered around 0")
	}

	if th > angleBounds.Max {
		divisor := int(th / angleBounds.Max)
		return -math.Pi + th - (angleBounds.Max * float64(divisor))
	} else if th < angleBounds.Min {
		divisor := int(th / angleBounds.Min)
		return math.Pi + th - (angleBounds.Min * float64(divisor))
	} else {
		return th
	}
}
