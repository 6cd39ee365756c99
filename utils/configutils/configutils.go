// Package configutils loads YAML configuration files into structs,
// applying command line overrides of the form key=value.
package configutils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Load decodes the YAML file at path into out, then applies the
// overrides. Fields absent from the file keep the values already in
// out, so out should hold the defaults. Nested fields are overridden
// with dotted keys such as "replay.batch_size=16".
func Load(path string, overrides []string, out interface{}) error {
	raw := make(map[string]interface{})
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "load")
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return errors.Wrapf(err, "load: could not parse %v", path)
		}
	}
	return Decode(normalize(raw).(map[string]interface{}), overrides, out)
}

// Decode decodes raw into out after applying the overrides
func Decode(raw map[string]interface{}, overrides []string,
	out interface{}) error {
	for _, o := range overrides {
		kv := strings.SplitN(o, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return errors.Errorf("decode: illegal override %q, want "+
				"key=value", o)
		}
		set(raw, strings.Split(kv[0], "."), kv[1])
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return errors.Wrap(err, "decode")
	}
	return errors.Wrap(decoder.Decode(raw), "decode")
}

// DecodeTyped decodes the JSON object {"Type": name, "Config": {...}}
// into a new value of types[name], which it returns together with
// name. It backs the JSON encoding of pluggable configurations such as
// solvers and weight initializers.
func DecodeTyped(data []byte, types map[string]reflect.Type) (interface{},
	string, error) {
	var typed struct {
		Type   string
		Config map[string]interface{}
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, "", errors.Wrap(err, "decodeTyped")
	}
	if typed.Type == "" {
		return nil, "", errors.New("decodeTyped: missing field Type")
	}
	t, ok := types[typed.Type]
	if !ok {
		return nil, "", errors.Errorf("decodeTyped: unknown type %v",
			typed.Type)
	}

	value := reflect.New(t)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           value.Interface(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "decodeTyped")
	}
	if err := decoder.Decode(typed.Config); err != nil {
		return nil, "", errors.Wrapf(err, "decodeTyped: %v", typed.Type)
	}
	return value.Elem().Interface(), typed.Type, nil
}

// set stores value under the nested keys of m
func set(m map[string]interface{}, keys []string, value string) {
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}

// normalize converts the map[interface{}]interface{} values produced
// by yaml.v2 into map[string]interface{} so that mapstructure can
// decode nested structs
func normalize(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range v {
			v[k] = normalize(val)
		}
		return v
	case []interface{}:
		for i := range v {
			v[i] = normalize(v[i])
		}
		return v
	}
	return v
}
