// Package pointmass implements a Box2D point mass which must be pushed
// towards a goal in a walled arena without gravity
package pointmass

import (
	"fmt"
	"image/color"

	"github.com/ByteArena/box2d"
	"github.com/fogleman/gg"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/environment/render"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Arena
	Size   float64 = 4.0
	Radius float64 = 0.1
	FPS    float64 = 20.0

	// Physics
	ActionForce   float64 = 5.0
	LinearDamping float64 = 1.0
	VelocityIters int     = 6
	PositionIters int     = 2

	// Action bounds
	MinContinuousAction float64 = -1.0
	MaxContinuousAction float64 = 1.0
	ActionDims          int     = 2

	// Observation keys
	StateKey = "state"
	RGBKey   = "rgb"
)

// PointMass implements a point mass on a frictionless plane enclosed
// by four walls. Actions are two dimensional forces in [-1, 1] applied
// to the centre of the mass.
//
// The underlying state is (x, y, ẋ, ẏ) and is observed under the
// "state" key. If the environment was created with a positive image
// size, a top-down rendering is observed under the "rgb" key.
//
// Tasks start episodes with a state of length 2 holding the initial
// position of the mass.
type PointMass struct {
	env.Task
	world    box2d.B2World
	mass     *box2d.B2Body
	boundary []*box2d.B2Body
	lastStep ts.TimeStep
	state    *mat.VecDense
	discount float64

	imageSize    int
	actionBounds r1.Interval
	bodyColour   color.Color
	goalColour   color.Color
	wallColour   color.Color
}

// New returns a new PointMass environment
func New(task env.Task, discount float64, imageSize int) (*PointMass,
	ts.TimeStep) {
	p := &PointMass{
		Task:         task,
		world:        box2d.MakeB2World(box2d.B2Vec2{X: 0, Y: 0}),
		discount:     discount,
		imageSize:    imageSize,
		actionBounds: r1.Interval{Min: MinContinuousAction, Max: MaxContinuousAction},
		bodyColour:   color.RGBA{R: 128, G: 102, B: 230, A: 255},
		goalColour:   color.RGBA{R: 255, G: 166, B: 0, A: 255},
		wallColour:   color.RGBA{R: 30, G: 30, B: 30, A: 255},
	}

	// Walls
	corners := [][2]float64{{0, 0}, {0, Size}, {Size, Size}, {Size, 0}}
	p.boundary = make([]*box2d.B2Body, len(corners))
	for i := range corners {
		boundsDef := box2d.NewB2BodyDef()
		boundsDef.Type = 0 // Static body
		p.boundary[i] = p.world.CreateBody(boundsDef)

		next := corners[(i+1)%len(corners)]
		boundsShape := box2d.NewB2EdgeShape()
		boundsShape.Set(box2d.MakeB2Vec2(corners[i][0], corners[i][1]),
			box2d.MakeB2Vec2(next[0], next[1]))

		boundsFix := box2d.MakeB2FixtureDef()
		boundsFix.Shape = boundsShape
		p.boundary[i].CreateFixtureFromDef(&boundsFix)
	}

	// Point mass
	massDef := box2d.MakeB2BodyDef()
	massDef.Type = 2 // Dynamic body
	massDef.Position = box2d.MakeB2Vec2(Size/2, Size/2)
	massDef.LinearDamping = LinearDamping
	massDef.FixedRotation = true
	p.mass = p.world.CreateBody(&massDef)

	massShape := box2d.NewB2CircleShape()
	massShape.M_radius = Radius
	massFix := box2d.MakeB2FixtureDef()
	massFix.Shape = massShape
	massFix.Density = 1.0
	massFix.Restitution = 0.5
	p.mass.CreateFixtureFromDef(&massFix)

	return p, p.Reset()
}

// Reset places the mass at a new starting position at rest
func (p *PointMass) Reset() ts.TimeStep {
	start := p.Start()
	if err := validateStart(start); err != nil {
		panic(fmt.Sprintf("reset: %v", err))
	}

	p.mass.SetTransform(box2d.MakeB2Vec2(start.AtVec(0), start.AtVec(1)), 0)
	p.mass.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
	p.mass.SetAwake(true)
	p.state = p.physicalState()

	p.lastStep = ts.New(ts.First, 0, p.discount, p.observe(), 0)
	return p.lastStep
}

// Step applies the force a to the mass and advances the simulation by
// one frame
func (p *PointMass) Step(a *mat.VecDense) (ts.TimeStep, bool) {
	if a.Len() != ActionDims {
		panic(fmt.Sprintf("step: illegal action dimensions \n\twant(%v)"+
			"\n\thave(%v)", ActionDims, a.Len()))
	}
	fx := floatutils.ClipInterval(a.AtVec(0), p.actionBounds)
	fy := floatutils.ClipInterval(a.AtVec(1), p.actionBounds)

	p.mass.ApplyForceToCenter(box2d.MakeB2Vec2(fx*ActionForce,
		fy*ActionForce), true)
	p.world.Step(1.0/FPS, VelocityIters, PositionIters)

	prev := p.state
	p.state = p.physicalState()
	reward := p.GetReward(prev, a, p.state)
	nextStep := ts.New(ts.Mid, reward, p.discount, p.observe(),
		p.lastStep.Number+1)

	p.End(&nextStep, p.state)

	p.lastStep = nextStep
	return nextStep, nextStep.Last()
}

// LastTimeStep returns the last TimeStep taken in the environment
func (p *PointMass) LastTimeStep() ts.TimeStep {
	return p.lastStep
}

// ActionSpec returns the action specification of the environment
func (p *PointMass) ActionSpec() env.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lowerBound := mat.NewVecDense(ActionDims, []float64{MinContinuousAction,
		MinContinuousAction})
	upperBound := mat.NewVecDense(ActionDims, []float64{MaxContinuousAction,
		MaxContinuousAction})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// ObservationSpec returns the observation specification of the
// environment
func (p *PointMass) ObservationSpec() map[string]env.Spec {
	shape := mat.NewVecDense(4, nil)
	maxSpeed := ActionForce / LinearDamping
	lowerBound := mat.NewVecDense(4, []float64{0, 0, -maxSpeed, -maxSpeed})
	upperBound := mat.NewVecDense(4, []float64{Size, Size, maxSpeed, maxSpeed})

	specs := map[string]env.Spec{
		StateKey: env.NewSpec(shape, env.Observation, lowerBound, upperBound,
			env.Continuous),
	}
	if p.imageSize > 0 {
		specs[RGBKey] = env.NewImageSpec(render.Channels, p.imageSize,
			p.imageSize)
	}
	return specs
}

// DiscountSpec returns the discounting specification of the environment
func (p *PointMass) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{p.discount})
	upperBound := mat.NewVecDense(1, []float64{p.discount})

	return env.NewSpec(shape, env.Discount, lowerBound, upperBound,
		env.Continuous)
}

func (p *PointMass) physicalState() *mat.VecDense {
	pos := p.mass.GetPosition()
	vel := p.mass.GetLinearVelocity()
	return mat.NewVecDense(4, []float64{pos.X, pos.Y, vel.X, vel.Y})
}

func (p *PointMass) observe() ts.Observation {
	obs := ts.Observation{StateKey: mat.VecDenseCopyOf(p.state)}
	if p.imageSize > 0 {
		obs[RGBKey] = p.render()
	}
	return obs
}

// render draws the arena from above with the origin at the bottom left
func (p *PointMass) render() *mat.VecDense {
	scale := float64(p.imageSize) / Size
	toPixel := func(x, y float64) (float64, float64) {
		return x * scale, float64(p.imageSize) - y*scale
	}

	dc := gg.NewContext(p.imageSize, p.imageSize)
	dc.SetColor(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	dc.Clear()

	if g, ok := p.Task.(interface{ Goal() (float64, float64) }); ok {
		gx, gy := toPixel(g.Goal())
		dc.SetColor(p.goalColour)
		dc.DrawCircle(gx, gy, 2*Radius*scale)
		dc.Fill()
	}

	dc.SetColor(p.wallColour)
	dc.SetLineWidth(2.0)
	for i := range p.boundary {
		sh := p.boundary[i].GetFixtureList().M_shape.(*box2d.B2EdgeShape)
		x1, y1 := toPixel(sh.M_vertex1.X, sh.M_vertex1.Y)
		x2, y2 := toPixel(sh.M_vertex2.X, sh.M_vertex2.Y)
		dc.DrawLine(x1, y1, x2, y2)
	}
	dc.Stroke()

	x, y := toPixel(p.state.AtVec(0), p.state.AtVec(1))
	dc.SetColor(p.bodyColour)
	dc.DrawCircle(x, y, Radius*scale)
	dc.Fill()

	return render.ToCHW(dc)
}

func (p *PointMass) String() string {
	return fmt.Sprintf("PointMass  |  Position: (%v, %v)  |  Velocity: "+
		"(%v, %v)", p.state.AtVec(0), p.state.AtVec(1), p.state.AtVec(2),
		p.state.AtVec(3))
}

func validateStart(start mat.Vector) error {
	if start.Len() != 2 {
		return fmt.Errorf("starting position must have 2 dimensions, "+
			"have(%v)", start.Len())
	}
	for i := 0; i < 2; i++ {
		if v := start.AtVec(i); v < Radius || v > Size-Radius {
			return fmt.Errorf("starting position %v outside arena", v)
		}
	}
	return nil
}
