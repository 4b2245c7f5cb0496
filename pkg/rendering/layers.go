package rendering

import (
	"maps"
)

// Layer names used by Mixed.
const (
	LayerBase       = "base"
	LayerSecrets    = "secrets"
	LayerStep       = "step"
	LayerAdditional = "additional"
)

// Layer is a named set of template values.
type Layer struct {
	Name   string
	Values map[string]any
}

// Layers is an ordered stack of value sets; later layers win on key collision.
type Layers []Layer

// Mixed builds the context a step renders its parameters against:
// rendering context < secret context < step-declared values < additional values.
func Mixed(base, secrets, step, additional map[string]any) Layers {
	return Layers{
		{Name: LayerBase, Values: base},
		{Name: LayerSecrets, Values: secrets},
		{Name: LayerStep, Values: step},
		{Name: LayerAdditional, Values: additional},
	}
}

// With returns a copy of l with one more layer on top.
func (l Layers) With(name string, values map[string]any) Layers {
	res := make(Layers, 0, len(l)+1)
	res = append(res, l...)
	return append(res, Layer{Name: name, Values: values})
}

// Flatten merges all layers into one map.
func (l Layers) Flatten() map[string]any {
	res := make(map[string]any)
	for _, layer := range l {
		maps.Copy(res, layer.Values)
	}
	return res
}

// Lookup returns the value of key from the topmost layer defining it,
// together with that layer's name.
func (l Layers) Lookup(key string) (any, string, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if v, ok := l[i].Values[key]; ok {
			return v, l[i].Name, true
		}
	}
	return nil, "", false
}
