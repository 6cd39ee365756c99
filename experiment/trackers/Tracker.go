// Package trackers implements Trackers, which track and save data in
// an experiment
package trackers

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	ts "github.com/samuelfneumann/godreamer/timestep"
)

// Tracker keeps track of experiment data and saves the data after the
// experiment has finished
type Tracker interface {
	Track(t ts.TimeStep)
	Save() error
}

// save gob encodes data to filename
func save(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "save")
	}

	err = gob.NewEncoder(file).Encode(data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "save: could not encode data to %v", filename)
}

// LoadData loads and returns the data saved by a Tracker
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "loadData")
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "loadData: could not decode %v",
			filename)
	}
	return data, nil
}
