package stat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/systemstart/backupflow/pkg/api"
)

// Metric is a single named measurement of a step.
type Metric struct {
	Name  string
	Value any
	Units string
}

// Increment adds delta to a numeric metric. A metric without a value starts at zero.
func (m *Metric) Increment(delta float64) error {
	switch v := m.Value.(type) {
	case nil:
		m.Value = delta
	case float64:
		m.Value = v + delta
	case int:
		m.Value = float64(v) + delta
	case int64:
		m.Value = float64(v) + delta
	default:
		return fmt.Errorf("%w: metric %q holds %T", api.ErrUnsupportedValueType, m.Name, m.Value)
	}
	return nil
}

// String renders the metric as "value units".
func (m *Metric) String() string {
	var value string
	switch v := m.Value.(type) {
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		value = ""
	default:
		value = fmt.Sprint(v)
	}
	if m.Units == "" {
		return value
	}
	return value + " " + m.Units
}

// Metrics holds the metrics of one step in first-access order.
type Metrics struct {
	order []string
	items map[string]*Metric
}

// Get returns the metric called name, creating it with initial and units on first access.
func (m *Metrics) Get(name string, initial any, units string) *Metric {
	if metric, ok := m.items[name]; ok {
		return metric
	}
	if m.items == nil {
		m.items = make(map[string]*Metric)
	}
	metric := &Metric{Name: name, Value: initial, Units: units}
	m.items[name] = metric
	m.order = append(m.order, name)
	return metric
}

// Lookup returns the metric called name without creating it.
func (m *Metrics) Lookup(name string) (*Metric, bool) {
	metric, ok := m.items[name]
	return metric, ok
}

// Set stores value in the metric called name.
func (m *Metrics) Set(name string, value any, units string) {
	m.Get(name, nil, units).Value = value
}

// All returns the metrics in first-access order.
func (m *Metrics) All() []*Metric {
	res := make([]*Metric, 0, len(m.order))
	for _, name := range m.order {
		res = append(res, m.items[name])
	}
	return res
}

// Empty reports whether no metric was recorded.
func (m *Metrics) Empty() bool {
	return len(m.order) == 0
}

// Entry is the execution record of one step invocation.
type Entry struct {
	StepName    string
	DisplayName string
	Start       time.Time
	End         time.Time
	Metrics     Metrics
}

// NewEntry starts an entry for a step.
func NewEntry(stepName, displayName string) *Entry {
	return &Entry{StepName: stepName, DisplayName: displayName}
}

// Elapsed is the time between Start and End.
func (e *Entry) Elapsed() time.Duration {
	return e.End.Sub(e.Start)
}
