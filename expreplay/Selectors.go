package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// SelectorType determines how sequences are selected from a replay
// buffer
type SelectorType string

const (
	Uniform SelectorType = "Uniform"
	Fifo    SelectorType = "Fifo"
)

// Selector implements functionality for choosing which sequences
// should be sampled from an experience replay buffer
type Selector interface {
	// choose selects the offsets, relative to the oldest stored step,
	// at which sampled sequences start. Offsets are in [0, starts).
	choose(starts int) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int
}

// CreateSelector returns a new Selector of type t
func CreateSelector(t SelectorType, samples int, seed uint64) (Selector,
	error) {
	switch t {
	case Uniform:
		return NewUniformSelector(samples, seed), nil
	case Fifo:
		return NewFifoSelector(samples), nil
	}
	return nil, fmt.Errorf("createSelector: no such selector %v", t)
}

// uniformSelector is a Selector which selects sequences from an
// experience replay buffer uniformly randomly
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly from an experience replay buffer
func NewUniformSelector(samples int, seed uint64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{samples: samples, rng: rng}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose selects a number of sequence starts uniformly
func (u *uniformSelector) choose(starts int) []int {
	selected := make([]int, u.BatchSize())
	for i := range selected {
		selected[i] = u.rng.Intn(starts)
	}
	return selected
}

// fifoSelector is a Selector which sweeps over the sequences of an
// experience replay buffer in the order they were inserted, wrapping
// around to the oldest sequence when the newest has been selected.
type fifoSelector struct {
	samples int
	next    int
}

// NewFifoSelector returns a new Selector which draws data from an
// experience replay buffer in as FiFo.
func NewFifoSelector(samples int) Selector {
	return &fifoSelector{samples: samples}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (f *fifoSelector) BatchSize() int {
	return f.samples
}

// choose selects the next sequence starts in insertion order
func (f *fifoSelector) choose(starts int) []int {
	selected := make([]int, f.BatchSize())
	for i := range selected {
		if f.next >= starts {
			f.next = 0
		}
		selected[i] = f.next
		f.next++
	}
	return selected
}
