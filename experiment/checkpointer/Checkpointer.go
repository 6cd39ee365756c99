// Package checkpointer implements Checkpointers, which periodically
// save the state of a learning agent during an experiment
package checkpointer

import ts "github.com/samuelfneumann/godreamer/timestep"

// Saver is an object that can save its complete state to a directory
type Saver interface {
	SaveDir(dir string) error
}

// Checkpointer checkpoints/saves Savers based on the timesteps of an
// experiment. Checkpoint is called once per environment step.
type Checkpointer interface {
	Checkpoint(ts.TimeStep) error
}
