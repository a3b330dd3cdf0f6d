package score

import (
	"encoding/json"
	"math"
	"strconv"
)

// Metric is a ratio metric. NaN means the denominator was zero.
type Metric float64

// Undefined is the value of a metric whose denominator is zero.
var Undefined = Metric(math.NaN())

func ratio(num, den int) Metric {
	if den == 0 {
		return Undefined
	}
	return Metric(float64(num) / float64(den))
}

// Defined reports whether the metric has a value.
func (m Metric) Defined() bool {
	return !math.IsNaN(float64(m))
}

// Float returns the metric and whether it is defined.
func (m Metric) Float() (float64, bool) {
	return float64(m), m.Defined()
}

// String formats the metric for tabular output. Undefined renders as NaN
// so pandas and spreadsheet tools read it back as missing.
func (m Metric) String() string {
	if !m.Defined() {
		return "NaN"
	}
	return strconv.FormatFloat(float64(m), 'f', -1, 64)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

func (m Metric) MarshalYAML() (any, error) {
	if !m.Defined() {
		return nil, nil
	}
	return float64(m), nil
}
