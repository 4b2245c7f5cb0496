package rendering

import (
	"maps"
)

// Context accumulates the values exposed to templates during one flow run:
// the basic values computed at flow start, then the outputs of every executed
// step in execution order.
type Context struct {
	basic    map[string]any
	previous []map[string]any
}

// NewContext returns a Context over a private copy of basic.
func NewContext(basic map[string]any) *Context {
	return &Context{basic: maps.Clone(basic)}
}

// Append records the outputs of one executed step.
func (c *Context) Append(values map[string]any) {
	c.previous = append(c.previous, maps.Clone(values))
}

// Reset drops the recorded step outputs, keeping the basic values.
func (c *Context) Reset() {
	c.previous = nil
}

// Basic returns a copy of the basic values.
func (c *Context) Basic() map[string]any {
	return maps.Clone(c.basic)
}

// Len is the number of recorded step outputs.
func (c *Context) Len() int {
	return len(c.previous)
}

// ToContext folds the basic values and every recorded step output into a
// single map. Later outputs override earlier ones and the basic values.
func (c *Context) ToContext() map[string]any {
	res := maps.Clone(c.basic)
	if res == nil {
		res = make(map[string]any)
	}
	for _, values := range c.previous {
		res = MergeContext(res, values)
	}
	return res
}

// MergeContext performs a shallow merge of local context over global context.
// Local keys override global keys at the top level.
func MergeContext(global, local map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, local)
	return merged
}
