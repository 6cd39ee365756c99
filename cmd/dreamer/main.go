// Command dreamer trains a Dreamer agent online in one of the
// configured environments, checkpointing it and saving the returns of
// its episodes.
//
// Usage:
//
//	dreamer -config config.yaml -set agent.horizon=10 -set max_steps=5000
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/samuelfneumann/godreamer/experiment"
	"github.com/sirupsen/logrus"
)

// overrides collects repeated -set flags
type overrides []string

func (o *overrides) String() string {
	return strings.Join(*o, ",")
}

func (o *overrides) Set(value string) error {
	*o = append(*o, value)
	return nil
}

var (
	flagConfig = flag.String("config", "", "path to a YAML experiment configuration (default: built-in defaults)")
	flagResume = flag.String("resume", "", "checkpoint directory to resume the agent from")
	flagPrint  = flag.Bool("print", false, "print the resolved configuration and exit")
	flagSet    overrides
)

func main() {
	flag.Var(&flagSet, "set", "override a configuration value as key=value, may be repeated")
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("dreamer failed")
	}
}

func run() error {
	sets := []string(flagSet)
	if *flagResume != "" {
		sets = append(sets, "resume_dir="+*flagResume)
	}
	c, err := experiment.LoadConfig(*flagConfig, sets)
	if err != nil {
		return err
	}
	if *flagPrint {
		fmt.Fprintln(os.Stdout, c.Agent.String())
		return nil
	}

	level, err := logrus.ParseLevel(c.Agent.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.WithFields(logrus.Fields{
		"environment": c.Environment.Environment,
		"task":        c.Environment.Task,
		"steps":       c.MaxSteps,
	}).Info("creating experiment")

	exp, err := c.Create()
	if err != nil {
		return err
	}
	if err := exp.Run(); err != nil {
		return err
	}
	return exp.Save()
}
