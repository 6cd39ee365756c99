package initwfn

import (
	"encoding/json"
	"math"
	"testing"
)

func TestConstantTensor(t *testing.T) {
	tests := []struct {
		name string
		new  func() (*InitWFn, error)
		want float64
	}{
		{"zeroes", NewZeroes, 0},
		{"ones", NewOnes, 1},
		{"constant", func() (*InitWFn, error) { return NewConstant(0.5) }, 0.5},
	}
	for _, test := range tests {
		init, err := test.new()
		if err != nil {
			t.Fatal(err)
		}
		w := init.Tensor(3, 2)
		if s := w.Shape(); len(s) != 2 || s[0] != 3 || s[1] != 2 {
			t.Fatalf("%v shape \n\twant([3 2])\n\thave(%v)", test.name, s)
		}
		for _, v := range w.Data().([]float64) {
			if v != test.want {
				t.Errorf("%v value \n\twant(%v)\n\thave(%v)", test.name,
					test.want, v)
				break
			}
		}
	}
}

func TestGlorotBounds(t *testing.T) {
	init, err := NewGlorotU(1.0)
	if err != nil {
		t.Fatal(err)
	}

	// Glorot uniform samples lie within ±√(6 / (fanIn + fanOut))
	bound := math.Sqrt(6.0 / (40 + 60))
	for _, v := range init.Tensor(40, 60).Data().([]float64) {
		if math.Abs(v) > bound+1e-12 {
			t.Fatalf("glorot weight \n\twant(|w| <= %v)\n\thave(%v)", bound, v)
		}
	}
}

func TestInitWFnJSON(t *testing.T) {
	init, err := NewGlorotN(2.0)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(init)
	if err != nil {
		t.Fatal(err)
	}

	var loaded InitWFn
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Type != GlorotN || loaded.Config != init.Config {
		t.Errorf("unmarshalled initializer \n\twant(%v)\n\thave(%v)", init,
			&loaded)
	}
	if loaded.InitWFn() == nil {
		t.Error("unmarshalled initializer cannot create weights")
	}

	if err := json.Unmarshal([]byte(`{"Type": "He"}`), &loaded); err == nil {
		t.Error("expected error for unknown initializer")
	}
}
