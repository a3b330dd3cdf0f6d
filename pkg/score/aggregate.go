package score

// Metric names used in the long-form output.
const (
	MetricRecall    = "Recall"
	MetricPrecision = "Precision"
	MetricAccuracy  = "Accuracy"
)

// MetricNames lists the metrics in output order.
var MetricNames = []string{MetricRecall, MetricPrecision, MetricAccuracy}

// Mean is the arithmetic mean of the defined values of one metric.
type Mean struct {
	Value Metric `json:"value" yaml:"value"`
	// Defined is the number of pairs that contributed a value.
	Defined int `json:"defined" yaml:"defined"`
	// Undefined is the number of pairs whose metric had a zero denominator.
	Undefined int `json:"undefined" yaml:"undefined"`
}

// Summary holds the per-type aggregate of a batch.
type Summary struct {
	Type      Transformation `json:"type" yaml:"type"`
	Scored    int            `json:"scored" yaml:"scored"`
	Skipped   int            `json:"skipped" yaml:"skipped"`
	Failed    int            `json:"failed" yaml:"failed"`
	Recall    Mean           `json:"recall" yaml:"recall"`
	Precision Mean           `json:"precision" yaml:"precision"`
	Accuracy  Mean           `json:"accuracy" yaml:"accuracy"`
}

type accumulator struct {
	sum       float64
	defined   int
	undefined int
}

func (a *accumulator) add(m Metric) {
	if v, ok := m.Float(); ok {
		a.sum += v
		a.defined++
		return
	}
	a.undefined++
}

func (a *accumulator) mean() Mean {
	return Mean{
		Value:     ratioF(a.sum, a.defined),
		Defined:   a.defined,
		Undefined: a.undefined,
	}
}

func ratioF(sum float64, n int) Metric {
	if n == 0 {
		return Undefined
	}
	return Metric(sum / float64(n))
}

// Aggregate folds results and failures into one summary per type, in the
// order types first appear in types. Types present only in results or
// failures are appended after the given ones.
func Aggregate(types []Transformation, results []*Result, failures []Failure) []Summary {
	order := make([]string, 0, len(types))
	byCode := make(map[string]*Summary)
	acc := make(map[string]*[3]accumulator)

	ensure := func(t Transformation) *Summary {
		if s, ok := byCode[t.Code]; ok {
			return s
		}
		s := &Summary{Type: t}
		byCode[t.Code] = s
		acc[t.Code] = &[3]accumulator{}
		order = append(order, t.Code)
		return s
	}

	for _, t := range types {
		ensure(t)
	}

	for _, r := range results {
		s := ensure(r.Type)
		s.Scored++
		a := acc[r.Type.Code]
		a[0].add(r.Recall)
		a[1].add(r.Precision)
		a[2].add(r.Accuracy)
	}

	for _, f := range failures {
		s := ensure(Transformation{Code: f.Type})
		if f.Skipped() {
			s.Skipped++
		} else {
			s.Failed++
		}
	}

	list := make([]Summary, 0, len(order))
	for _, code := range order {
		s := byCode[code]
		a := acc[code]
		s.Recall = a[0].mean()
		s.Precision = a[1].mean()
		s.Accuracy = a[2].mean()
		list = append(list, *s)
	}
	return list
}

// Observation is one row of the long-form metric table.
type Observation struct {
	Doc    int    `json:"doc" yaml:"doc"`
	Group  string `json:"group" yaml:"group"`
	Metric string `json:"metric" yaml:"metric"`
	Value  Metric `json:"value" yaml:"value"`
}

// LongForm melts the per-pair metrics into (doc, group, metric, value) rows
// grouped by metric, the shape grouped bar charts and paired tests expect.
// Group is the annotation label of the pair type.
func LongForm(results []*Result) []Observation {
	list := make([]Observation, 0, len(results)*len(MetricNames))
	for _, name := range MetricNames {
		for _, r := range results {
			list = append(list, Observation{
				Doc:    r.Doc,
				Group:  groupName(r.Type),
				Metric: name,
				Value:  r.metric(name),
			})
		}
	}
	return list
}

func groupName(t Transformation) string {
	if t.Label != "" {
		return t.Label
	}
	return t.Code
}

func (r *Result) metric(name string) Metric {
	switch name {
	case MetricRecall:
		return r.Recall
	case MetricPrecision:
		return r.Precision
	case MetricAccuracy:
		return r.Accuracy
	default:
		return Undefined
	}
}

// Comparison names two groups whose values of one metric are compared
// with a paired test.
type Comparison struct {
	Metric string `json:"metric" yaml:"metric"`
	A      string `json:"a" yaml:"a"`
	B      string `json:"b" yaml:"b"`
}

// Comparisons lists every pairwise group comparison per metric.
func Comparisons(types []Transformation) []Comparison {
	list := make([]Comparison, 0)
	for _, m := range MetricNames {
		for i := 0; i < len(types); i++ {
			for j := i + 1; j < len(types); j++ {
				list = append(list, Comparison{Metric: m, A: groupName(types[i]), B: groupName(types[j])})
			}
		}
	}
	return list
}
