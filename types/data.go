package types

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Data is a loosely typed mapping, used for raw task configs
// and for result payloads reported by the backend.
type Data map[string]any

func (d Data) Get(key string) (any, bool) {
	v, exists := d[key]
	return v, exists
}

func (d Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d Data) GetStringSlice(key string) ([]string, bool) {
	v, exists := d.Get(key)
	return cast.ToStringSlice(v), exists
}

// GetData returns a nested mapping; the second value is false when the key
// is absent or does not hold a mapping.
func (d Data) GetData(key string) (Data, bool) {
	v, exists := d.Get(key)
	if !exists {
		return nil, false
	}
	switch m := v.(type) {
	case Data:
		return m, true
	case map[string]any:
		return Data(m), true
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, false
	}
	return Data(m), true
}

// Decode converts the value under key into s through its JSON form.
func (d Data) Decode(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("key %s", key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshal %s", key)
	}
	return errors.Trace(json.Unmarshal(b, s))
}

func (d Data) Set(key string, value any) {
	d[key] = value
}

// Clone copies the mapping deeply enough that nested maps and slices
// of the copy can be handed out without sharing.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return Data(vv).Clone()
	case Data:
		return vv.Clone()
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
