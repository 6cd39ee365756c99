package checkpointer

import (
	"github.com/pkg/errors"
	ts "github.com/samuelfneumann/godreamer/timestep"
)

// nStep implements checkpointing every N environment steps
type nStep struct {
	interval int
	steps    int
	object   Saver

	// dirname returns the directory of the next checkpoint, see
	// Naming.Dirname
	dirname func() string
}

// NewNStep returns a checkpointer that checkpoints every n steps.
func NewNStep(n int, object Saver, dirname func() string) (Checkpointer,
	error) {
	if n <= 0 {
		return nil, errors.Errorf("newNStep: interval must be positive "+
			"\n\thave(%v)", n)
	}
	return &nStep{
		interval: n,
		object:   object,
		dirname:  dirname,
	}, nil
}

// Checkpoint saves the Checkpointer's tracked object on every n-th
// call
func (n *nStep) Checkpoint(ts.TimeStep) error {
	n.steps++
	if n.steps%n.interval == 0 {
		return errors.Wrap(n.object.SaveDir(n.dirname()), "checkpoint")
	}
	return nil
}
