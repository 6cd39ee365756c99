// Package expreplay implements a sequence replay buffer. Steps are
// stored in the order they are experienced and are sampled as batches
// of contiguous sequences, so that recurrent models can be trained on
// them.
package expreplay

import (
	"fmt"
	"sort"

	"github.com/samuelfneumann/godreamer/timestep"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Step is a single stored step. The Action is the action that was
// taken to arrive at the Observation, so the Action of the first step
// of an episode is zero.
type Step struct {
	Observation timestep.Observation
	Action      []float64
	Reward      float64
	Terminal    bool
	IsFirst     bool
}

// NewStep returns the Step for TimeStep t, which was reached by taking
// action. A nil action is stored as zeros.
func NewStep(t timestep.TimeStep, action *mat.VecDense) Step {
	var a []float64
	if action != nil {
		a = make([]float64, action.Len())
		for i := range a {
			a[i] = action.AtVec(i)
		}
	}
	reward := t.Reward
	if t.First() {
		reward = 0
	}
	return Step{
		Observation: t.Observation.Clone(),
		Action:      a,
		Reward:      reward,
		Terminal:    t.Terminal(),
		IsFirst:     t.First(),
	}
}

// Batch is a batch of sequences sampled from a buffer. Every field is
// indexed first by time. Observations[k][t] has one row per sequence,
// as do Actions[t], while Rewards[t], Terminals[t] and IsFirst[t] have
// one entry per sequence. IsFirst[0] is 1 for every sequence.
type Batch struct {
	Observations map[string][]*mat.Dense
	Actions      []*mat.Dense
	Rewards      [][]float64
	Terminals    [][]float64
	IsFirst      [][]float64
}

// SequenceLength returns the number of time steps in the batch
func (b *Batch) SequenceLength() int {
	return len(b.Actions)
}

// BatchSize returns the number of sequences in the batch
func (b *Batch) BatchSize() int {
	if len(b.Actions) == 0 {
		return 0
	}
	r, _ := b.Actions[0].Dims()
	return r
}

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	SampleMethod      SelectorType `json:"sample_method" mapstructure:"sample_method"`
	BatchSize         int          `json:"batch_size" mapstructure:"batch_size"`
	SequenceLength    int          `json:"sequence_length" mapstructure:"sequence_length"`
	MaxReplayCapacity int          `json:"max_replay_capacity" mapstructure:"max_replay_capacity"`
	MinReplayCapacity int          `json:"min_replay_capacity" mapstructure:"min_replay_capacity"`
}

// Create creates and returns the ExperienceReplayer with the specified
// Config.
func (c Config) Create(actionSize int, seed uint64) (ExperienceReplayer,
	error) {
	sampler, err := CreateSelector(c.SampleMethod, c.BatchSize, seed)
	if err != nil {
		return nil, fmt.Errorf("create: %v", err)
	}
	return New(sampler, c.SequenceLength, c.MinReplayCapacity,
		c.MaxReplayCapacity, actionSize)
}

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Add adds a step to the buffer
	Add(s Step) error

	// Sample samples a batch of sequences from the buffer
	Sample() (*Batch, error)

	// Capacity returns the current number of steps in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable steps in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of steps required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of sequences returned by Sample()
	BatchSize() int

	// SequenceLength returns the length of sampled sequences
	SequenceLength() int
}

// sequenceCache implements a concrete ExperienceReplayer as a ring
// buffer of steps
type sequenceCache struct {
	steps       []Step
	oldest      int
	size        int
	minCapacity int
	seqLen      int
	actionSize  int
	obsSizes    map[string]int
	keys        []string

	sampler Selector
	log     *logrus.Entry
}

// New creates and returns a new ExperienceReplayer. The sampler
// determines which sequences are sampled. Sequences of seqLen steps
// are sampled once at least max(minCapacity, seqLen) steps are stored.
func New(sampler Selector, seqLen, minCapacity, maxCapacity,
	actionSize int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if seqLen <= 0 {
		return nil, fmt.Errorf("new: sequence length must be > 0")
	}
	if maxCapacity < seqLen || maxCapacity < minCapacity {
		return nil, fmt.Errorf("new: max capacity must be at least the "+
			"sequence length and min capacity \n\twant(>=%v)\n\thave(%v)",
			maxInt(seqLen, minCapacity), maxCapacity)
	}
	if sampler.BatchSize() <= 0 {
		return nil, fmt.Errorf("new: batch size must be > 0")
	}
	if actionSize <= 0 {
		return nil, fmt.Errorf("new: action size must be > 0")
	}

	c := &sequenceCache{
		steps:       make([]Step, maxCapacity),
		minCapacity: minCapacity,
		seqLen:      seqLen,
		actionSize:  actionSize,
		sampler:     sampler,
		log:         logrus.WithField("component", "replay"),
	}
	c.log.WithFields(logrus.Fields{
		"capacity":        maxCapacity,
		"sequence_length": seqLen,
		"batch_size":      sampler.BatchSize(),
	}).Debug("created replay buffer")
	return c, nil
}

// Add adds a step to the buffer, overwriting the oldest step when the
// buffer is full
func (c *sequenceCache) Add(s Step) error {
	if s.Action == nil {
		s.Action = make([]float64, c.actionSize)
	} else if len(s.Action) != c.actionSize {
		err := fmt.Errorf("illegal action size \n\twant(%v)\n\thave(%v)",
			c.actionSize, len(s.Action))
		return &ExpReplayError{Op: "add", Err: err}
	}

	if c.obsSizes == nil {
		c.obsSizes = make(map[string]int, len(s.Observation))
		for k, v := range s.Observation {
			c.obsSizes[k] = v.Len()
			c.keys = append(c.keys, k)
		}
		sort.Strings(c.keys)
	}
	if len(s.Observation) != len(c.obsSizes) {
		err := fmt.Errorf("observation keys %v do not match %v",
			s.Observation.Keys(), c.keys)
		return &ExpReplayError{Op: "add", Err: err}
	}
	for k, size := range c.obsSizes {
		v, ok := s.Observation[k]
		if !ok || v.Len() != size {
			err := fmt.Errorf("illegal observation %v", k)
			return &ExpReplayError{Op: "add", Err: err}
		}
	}

	if c.size < len(c.steps) {
		c.steps[(c.oldest+c.size)%len(c.steps)] = s
		c.size++
	} else {
		c.steps[c.oldest] = s
		c.oldest = (c.oldest + 1) % len(c.steps)
	}
	return nil
}

// Sample samples a batch of sequences. The first step of every
// sequence is marked as the first step of an episode.
func (c *sequenceCache) Sample() (*Batch, error) {
	if c.size == 0 {
		return nil, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if c.size < c.minCapacity || c.size < c.seqLen {
		return nil, &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}

	starts := c.sampler.choose(c.size - c.seqLen + 1)
	batchSize := len(starts)

	batch := &Batch{
		Observations: make(map[string][]*mat.Dense, len(c.keys)),
		Actions:      make([]*mat.Dense, c.seqLen),
		Rewards:      make([][]float64, c.seqLen),
		Terminals:    make([][]float64, c.seqLen),
		IsFirst:      make([][]float64, c.seqLen),
	}
	for _, k := range c.keys {
		batch.Observations[k] = make([]*mat.Dense, c.seqLen)
	}

	for t := 0; t < c.seqLen; t++ {
		for _, k := range c.keys {
			batch.Observations[k][t] = mat.NewDense(batchSize, c.obsSizes[k],
				nil)
		}
		batch.Actions[t] = mat.NewDense(batchSize, c.actionSize, nil)
		batch.Rewards[t] = make([]float64, batchSize)
		batch.Terminals[t] = make([]float64, batchSize)
		batch.IsFirst[t] = make([]float64, batchSize)

		for b, start := range starts {
			s := c.steps[(c.oldest+start+t)%len(c.steps)]
			for _, k := range c.keys {
				copy(batch.Observations[k][t].RawRowView(b),
					s.Observation[k].RawVector().Data)
			}
			batch.Actions[t].SetRow(b, s.Action)
			batch.Rewards[t][b] = s.Reward
			if s.Terminal {
				batch.Terminals[t][b] = 1
			}
			if s.IsFirst || t == 0 {
				batch.IsFirst[t][b] = 1
			}
		}
	}
	return batch, nil
}

// Capacity returns the current number of steps in the cache
func (c *sequenceCache) Capacity() int {
	return c.size
}

// MaxCapacity returns the maximum number of steps that are allowed
// in the cache
func (c *sequenceCache) MaxCapacity() int {
	return len(c.steps)
}

// MinCapacity returns the minimum number of steps required in the
// cache before sampling is allowed
func (c *sequenceCache) MinCapacity() int {
	return c.minCapacity
}

// BatchSize returns the number of sequences sampled using Sample()
func (c *sequenceCache) BatchSize() int {
	return c.sampler.BatchSize()
}

// SequenceLength returns the number of steps in sampled sequences
func (c *sequenceCache) SequenceLength() int {
	return c.seqLen
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
