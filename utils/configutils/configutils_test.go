package configutils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type inner struct {
	Size int `mapstructure:"size"`
}

type outer struct {
	Rate  float64  `mapstructure:"rate"`
	Keys  []string `mapstructure:"keys"`
	Name  string   `mapstructure:"name"`
	Inner inner    `mapstructure:"inner"`
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "configutils")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	yaml := "rate: 1e-4\nkeys: [rgb, depth]\ninner:\n  size: 3\n"
	if err := ioutil.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	out := outer{Name: "default", Rate: 1}
	err = Load(path, []string{"inner.size=7", "keys=state,rgb"}, &out)
	if err != nil {
		t.Fatal(err)
	}

	if out.Rate != 1e-4 {
		t.Errorf("rate \n\twant(1e-4)\n\thave(%v)", out.Rate)
	}
	if out.Name != "default" {
		t.Errorf("default kept \n\twant(default)\n\thave(%v)", out.Name)
	}
	if out.Inner.Size != 7 {
		t.Errorf("nested override \n\twant(7)\n\thave(%v)", out.Inner.Size)
	}
	if len(out.Keys) != 2 || out.Keys[0] != "state" || out.Keys[1] != "rgb" {
		t.Errorf("slice override \n\twant([state rgb])\n\thave(%v)", out.Keys)
	}
}

func TestDecodeErrors(t *testing.T) {
	var out outer
	if err := Decode(map[string]interface{}{}, []string{"rate"}, &out); err == nil {
		t.Error("expected error for override without value")
	}
	err := Decode(map[string]interface{}{"unknown": 1}, nil, &out)
	if err == nil {
		t.Error("expected error for unknown field")
	}
}

type momentum struct {
	StepSize float64
	Batch    int
}

func TestDecodeTyped(t *testing.T) {
	types := map[string]reflect.Type{
		"Momentum": reflect.TypeOf(momentum{}),
		"Plain":    reflect.TypeOf(inner{}),
	}
	value, name, err := DecodeTyped(
		[]byte(`{"Type": "Momentum", "Config": {"StepSize": 0.5, "Batch": 4}}`),
		types)
	if err != nil {
		t.Fatal(err)
	}
	want := momentum{StepSize: 0.5, Batch: 4}
	if name != "Momentum" || value != want {
		t.Errorf("decoded \n\twant(Momentum %+v)\n\thave(%v %+v)", want,
			name, value)
	}

	illegal := []string{
		`{"Config": {}}`,
		`{"Type": "Nesterov", "Config": {}}`,
		`{"Type": "Momentum", "Config": {"Rate": 1}}`,
		`[1, 2]`,
	}
	for _, data := range illegal {
		if _, _, err := DecodeTyped([]byte(data), types); err == nil {
			t.Errorf("expected error for %v", data)
		}
	}
}
