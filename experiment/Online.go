package experiment

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/samuelfneumann/godreamer/agent"
	env "github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/experiment/checkpointer"
	"github.com/samuelfneumann/godreamer/experiment/trackers"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"github.com/samuelfneumann/godreamer/utils/progressbar"
	"github.com/sirupsen/logrus"
)

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
type Online struct {
	env.Environment
	agent.Agent
	maxSteps      uint
	currentSteps  uint
	trackers      []trackers.Tracker
	checkpointers []checkpointer.Checkpointer

	log      *logrus.Entry
	logEvery uint
	bar      *progressbar.ManualProgressBar

	episodes      int
	episodeReturn float64
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The steps parameter determines how
// many timesteps the experiment is run for, t determines what data is
// tracked and check when the agent is checkpointed.
func NewOnline(e env.Environment, a agent.Agent, steps uint,
	t []trackers.Tracker, check []checkpointer.Checkpointer) *Online {
	return &Online{
		Environment:   e,
		Agent:         a,
		maxSteps:      steps,
		trackers:      t,
		checkpointers: check,
		log:           logrus.WithField("component", "experiment"),
	}
}

// Register registers a Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved
func (o *Online) Register(t trackers.Tracker) {
	o.trackers = append(o.trackers, t)
}

// SetLogEvery logs the metrics of an agent.Instrumented agent every n
// steps, 0 disables logging
func (o *Online) SetLogEvery(n uint) {
	o.logEvery = n
}

// ShowProgress displays a progress bar on w while the experiment runs
func (o *Online) ShowProgress(w io.Writer) {
	o.bar = progressbar.NewManualProgressBar(w, 40, int(o.maxSteps))
}

// Steps returns the number of environment steps taken
func (o *Online) Steps() uint {
	return o.currentSteps
}

// RunEpisode runs a single episode of the experiment
func (o *Online) RunEpisode() (bool, error) {
	step := o.Environment.Reset()
	if err := o.Agent.ObserveFirst(step); err != nil {
		return false, errors.Wrap(err, "runEpisode")
	}
	o.track(step)
	o.episodeReturn = 0

	for !step.Last() && o.currentSteps < o.maxSteps {
		o.currentSteps++

		// Select action, step in environment
		action := o.Agent.SelectAction(step)
		step, _ = o.Environment.Step(action)
		o.track(step)
		o.episodeReturn += step.Reward

		// Observe the timestep and step the agent
		if err := o.Agent.Observe(action, step); err != nil {
			return false, errors.Wrap(err, "runEpisode")
		}
		if err := o.Agent.Step(); err != nil {
			return false, errors.Wrap(err, "runEpisode")
		}
		if err := o.checkpoint(step); err != nil {
			return false, errors.Wrap(err, "runEpisode")
		}
		o.logMetrics()
		if o.bar != nil {
			o.bar.Increment()
			o.bar.Display()
		}
	}

	if step.Last() {
		o.Agent.EndEpisode()
		o.episodes++
		o.log.WithFields(logrus.Fields{
			"episode": o.episodes,
			"return":  o.episodeReturn,
			"length":  step.Number,
			"step":    o.currentSteps,
		}).Debug("episode finished")
		if o.bar != nil {
			o.bar.SetStatus("episode %v return: %.2f", o.episodes,
				o.episodeReturn)
		}
	}

	// Return whether or not the max timestep limit has been reached
	return o.currentSteps >= o.maxSteps, nil
}

// Run runs the entire experiment for all timesteps
func (o *Online) Run() error {
	o.log.WithField("steps", o.maxSteps).Info("starting experiment")
	for ended := false; !ended; {
		var err error
		if ended, err = o.RunEpisode(); err != nil {
			return errors.Wrap(err, "run")
		}
	}
	if o.bar != nil {
		o.bar.Close()
	}
	o.log.WithFields(logrus.Fields{
		"steps":    o.currentSteps,
		"episodes": o.episodes,
	}).Info("experiment finished")
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return errors.Wrap(err, "save")
		}
	}
	return nil
}

// track tracks the current timestep by caching its data in each Tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tracker := range o.trackers {
		tracker.Track(t)
	}
}

// checkpoint passes the current timestep to each Checkpointer
func (o *Online) checkpoint(t ts.TimeStep) error {
	for _, c := range o.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			return err
		}
	}
	return nil
}

// logMetrics logs the current metrics of an agent.Instrumented agent
func (o *Online) logMetrics() {
	inst, ok := o.Agent.(agent.Instrumented)
	if !ok || o.logEvery == 0 || o.currentSteps%o.logEvery != 0 {
		return
	}
	families, err := inst.Metrics().Gather()
	if err != nil {
		o.log.WithError(err).Warn("could not gather metrics")
		return
	}

	fields := logrus.Fields{"step": o.currentSteps}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			fields[metricName(f, m)] = metricValue(m)
		}
	}
	o.log.WithFields(fields).Info("metrics")
}

// metricName returns the family name of a metric followed by its label
// values
func metricName(f *dto.MetricFamily, m *dto.Metric) string {
	parts := []string{f.GetName()}
	for _, l := range m.GetLabel() {
		parts = append(parts, l.GetValue())
	}
	return strings.Join(parts, "/")
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}
