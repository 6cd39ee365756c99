package envconfig

import "testing"

func TestCreate(t *testing.T) {
	configs := []Config{
		{Cartpole, Balance, 10, 0.99, 8, 1},
		{PointMass, Reach, 10, 0.99, 0, 2},
	}
	for _, c := range configs {
		e, first, err := c.Create(1)
		if err != nil {
			t.Fatalf("create %v: %v", c.Environment, err)
		}
		if !first.First() {
			t.Errorf("%v first step \n\twant(First)\n\thave(%v)",
				c.Environment, first.StepType)
		}
		if _, ok := e.ObservationSpec()["state"]; !ok {
			t.Errorf("%v has no state observation", c.Environment)
		}
	}
}

func TestValidate(t *testing.T) {
	illegal := []Config{
		{Cartpole, Reach, 10, 0.99, 0, 1},
		{"Maze", Reach, 10, 0.99, 0, 1},
		{Cartpole, Balance, 0, 0.99, 0, 1},
		{Cartpole, Balance, 10, 1.5, 0, 1},
		{Cartpole, Balance, 10, 0.99, 12, 1},
	}
	for _, c := range illegal {
		if err := c.Validate(); err == nil {
			t.Errorf("expected error for %+v", c)
		}
	}
}
