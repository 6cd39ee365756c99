// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either  first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType determines how an episode ended. Terminal episodes reached
// an absorbing state, so the value of the last state is zero. Timeout
// episodes were cut short, so the last state should be bootstrapped.
type EndType int

const (
	Terminal EndType = iota
	Timeout
)

func (e EndType) String() string {
	if e == Timeout {
		return "Timeout"
	}
	return "Terminal"
}

// Observation is a set of named observation arrays. Images are stored
// flattened in (channel, height, width) order.
type Observation map[string]*mat.VecDense

// Keys returns the observation keys in sorted order
func (o Observation) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the observation
func (o Observation) Clone() Observation {
	out := make(Observation, len(o))
	for k, v := range o {
		out[k] = mat.VecDenseCopyOf(v)
	}
	return out
}

func (o Observation) String() string {
	parts := make([]string, 0, len(o))
	for _, k := range o.Keys() {
		parts = append(parts, fmt.Sprintf("%v:%v", k, o[k].Len()))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType
	Reward      float64
	Discount    float64
	Observation Observation
	Number      int
	endType     EndType
}

// New returns a new TimeStep
func New(t StepType, r, d float64, o Observation, n int) TimeStep {
	return TimeStep{StepType: t, Reward: r, Discount: d, Observation: o,
		Number: n}
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

// SetEnd sets how the episode ended
func (t *TimeStep) SetEnd(e EndType) {
	t.endType = e
}

// Terminal returns whether the TimeStep ends the episode in an
// absorbing state
func (t *TimeStep) Terminal() bool {
	return t.Last() && t.endType == Terminal
}

// Truncated returns whether the TimeStep ends the episode by timeout
func (t *TimeStep) Truncated() bool {
	return t.Last() && t.endType == Timeout
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v  |  Observation: %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number,
		t.Observation)
}
