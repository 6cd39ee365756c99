package network

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/samuelfneumann/godreamer/initwfn"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

func newTestParams(t *testing.T, value float64) *Params {
	t.Helper()
	init, err := initwfn.NewConstant(value)
	if err != nil {
		t.Fatalf("could not create initializer: %v", err)
	}
	p := NewParams()
	if err := p.Add("a", init, 2, 3); err != nil {
		t.Fatalf("could not add parameter: %v", err)
	}
	if err := p.Add("b", init, 1, 4); err != nil {
		t.Fatalf("could not add parameter: %v", err)
	}
	return p
}

func TestPolyak(t *testing.T) {
	tests := []struct {
		tau  float64
		want float64
	}{
		{0.02, 0.02*5 + 0.98*1},
		{0.5, 3},
		{1, 5},
		{0, 1},
	}

	for _, test := range tests {
		target := newTestParams(t, 1)
		online := newTestParams(t, 5)

		if err := Polyak(target, online, test.tau); err != nil {
			t.Fatalf("polyak: %v", err)
		}
		for _, name := range target.Names() {
			for _, v := range target.View().Raw(name) {
				if math.Abs(v-test.want) > 1e-12 {
					t.Errorf("τ=%v: %v \n\twant(%v)\n\thave(%v)", test.tau,
						name, test.want, v)
				}
			}
		}
	}
}

func TestPolyakHardCopyIsExact(t *testing.T) {
	target := newTestParams(t, 0)
	online := NewParams()
	glorot, _ := initwfn.NewGlorotN(1.0)
	online.Add("a", glorot, 2, 3)
	online.Add("b", glorot, 1, 4)

	if err := Polyak(target, online, 1.0); err != nil {
		t.Fatalf("polyak: %v", err)
	}
	for _, name := range online.Names() {
		if !floats.Equal(target.View().Raw(name), online.View().Raw(name)) {
			t.Errorf("hard copy differs for %v", name)
		}
	}
}

func TestPolyakKeepsOldView(t *testing.T) {
	target := newTestParams(t, 1)
	online := newTestParams(t, 5)

	before := target.View()
	if err := Polyak(target, online, 0.5); err != nil {
		t.Fatalf("polyak: %v", err)
	}
	if v := before.Raw("a")[0]; v != 1 {
		t.Errorf("snapshot modified by update \n\twant(1)\n\thave(%v)", v)
	}
	if v := target.View().Raw("a")[0]; v != 3 {
		t.Errorf("update not visible \n\twant(3)\n\thave(%v)", v)
	}
}

func TestPolyakIllegalTau(t *testing.T) {
	target := newTestParams(t, 1)
	online := newTestParams(t, 5)
	if err := Polyak(target, online, 1.5); err == nil {
		t.Error("expected error for τ > 1")
	}
}

func TestSetIncompatible(t *testing.T) {
	p := newTestParams(t, 1)
	q := NewParams()
	q.AddTensor("a", tensor.New(tensor.WithShape(3, 2),
		tensor.WithBacking(make([]float64, 6))))
	if err := Set(p, q); err == nil {
		t.Error("expected error for incompatible parameters")
	}
}

func TestParamsGob(t *testing.T) {
	p := NewParams()
	glorot, _ := initwfn.NewGlorotU(1.0)
	p.Add("w", glorot, 4, 5)
	p.Add("v", glorot, 1, 3)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	q := NewParams()
	if err := gob.NewDecoder(&buf).Decode(q); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if want, have := p.Names(), q.Names(); len(want) != len(have) {
		t.Fatalf("names \n\twant(%v)\n\thave(%v)", want, have)
	}
	for _, name := range p.Names() {
		if !floats.Equal(p.View().Raw(name), q.View().Raw(name)) {
			t.Errorf("decoded values differ for %v", name)
		}
		if !p.View()[name].Shape().Eq(q.View()[name].Shape()) {
			t.Errorf("decoded shape differs for %v", name)
		}
	}
}
