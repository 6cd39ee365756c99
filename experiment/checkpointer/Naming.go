package checkpointer

import (
	"fmt"
	"path/filepath"
	"time"
)

// Naming determines the directory each checkpoint is written to
type Naming string

const (
	// Overwrite keeps only the latest checkpoint, in the base directory
	Overwrite Naming = "overwrite"

	// Enumerate writes the k-th checkpoint to the subdirectory k
	Enumerate Naming = "enumerate"

	// Timestamp writes each checkpoint to a subdirectory named by the
	// Unix time in nanoseconds at which it was taken
	Timestamp Naming = "timestamp"
)

// Dirname returns a function generating checkpoint directories under
// base according to the naming scheme
func (n Naming) Dirname(base string) (func() string, error) {
	switch n {
	case Overwrite, "":
		return func() string { return base }, nil
	case Enumerate:
		return Enumerator(base, 0), nil
	case Timestamp:
		return Timer(base), nil
	}
	return nil, fmt.Errorf("dirname: unknown checkpoint naming %q", n)
}

// Enumerator returns a function returning the subdirectories
// start+1, start+2, ... of base on consecutive calls
func Enumerator(base string, start int) func() string {
	i := start
	return func() string {
		i++
		return filepath.Join(base, fmt.Sprint(i))
	}
}

// Timer returns a function returning a subdirectory of base named by
// the current Unix time in nanoseconds
func Timer(base string) func() string {
	return func() string {
		return filepath.Join(base, fmt.Sprint(time.Now().UnixNano()))
	}
}
