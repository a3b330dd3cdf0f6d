package score

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingAnnotation means the pair has no annotation data for its type.
	// Such pairs are skipped and never counted in any average.
	ErrMissingAnnotation = errors.New("missing annotation")

	// ErrMalformedPair means the pair inputs cannot be scored.
	ErrMalformedPair = errors.New("malformed pair")
)

// Transformation is one gender-rewrite direction.
type Transformation struct {
	// Code names the column in the model output table.
	Code string `json:"code" yaml:"code" mapstructure:"code"`
	// Label names the second header level in the annotation tables.
	Label string `json:"label" yaml:"label" mapstructure:"label"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
}

// DefaultTransformations returns the female to male, non-binary and
// transgender male directions.
func DefaultTransformations() []Transformation {
	return []Transformation{
		{Code: "F->M", Label: "F->M", Name: "female to male"},
		{Code: "F->NB", Label: "F->non-binary", Name: "female to non-binary"},
		{Code: "F->TM", Label: "F->transgenderM", Name: "female to transgender male"},
	}
}

// Codes returns the codes of types in order.
func Codes(types []Transformation) []string {
	list := make([]string, len(types))
	for i, t := range types {
		list[i] = t.Code
	}
	return list
}

// Pair is the scoring input for one document and transformation type.
type Pair struct {
	Doc  int            `json:"doc" yaml:"doc"`
	Type Transformation `json:"type" yaml:"type"`
	// Original holds the original note tokens by position.
	Original []string `json:"original" yaml:"original"`
	// Cells holds the annotation cells by position, empty meaning no change.
	Cells []string `json:"cells" yaml:"cells"`
	// Output is the model rewritten note.
	Output string `json:"output" yaml:"output"`
}

// Counts is the confusion matrix of a single pair.
type Counts struct {
	TP int `json:"tp" yaml:"tp"`
	TN int `json:"tn" yaml:"tn"`
	FP int `json:"fp" yaml:"fp"`
	FN int `json:"fn" yaml:"fn"`
}

// Total is the number of aligned positions.
func (c Counts) Total() int {
	return c.TP + c.TN + c.FP + c.FN
}

// Recall is TP / (TP + FN).
func (c Counts) Recall() Metric {
	return ratio(c.TP, c.TP+c.FN)
}

// Precision is TP / (TP + FP).
func (c Counts) Precision() Metric {
	return ratio(c.TP, c.TP+c.FP)
}

// Accuracy is (TP + TN) / all positions.
func (c Counts) Accuracy() Metric {
	return ratio(c.TP+c.TN, c.Total())
}

// Result is the scored outcome of one pair. It is not modified after Score returns.
type Result struct {
	Doc        int            `json:"doc" yaml:"doc"`
	Type       Transformation `json:"type" yaml:"type"`
	Annotation []string       `json:"annotation" yaml:"annotation"`
	Model      []string       `json:"model" yaml:"model"`
	Match      []bool         `json:"match" yaml:"match"`
	Change     []bool         `json:"change" yaml:"change"`
	Counts     Counts         `json:"counts" yaml:"counts"`
	Recall     Metric         `json:"recall" yaml:"recall"`
	Precision  Metric         `json:"precision" yaml:"precision"`
	Accuracy   Metric         `json:"accuracy" yaml:"accuracy"`
}

// Len is the padded sequence length.
func (r *Result) Len() int {
	return len(r.Match)
}

// Tokenize splits s on whitespace keeping order.
func Tokenize(s string) []string {
	return strings.Fields(s)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// HasAnnotation reports whether any cell asks for a change.
func HasAnnotation(cells []string) bool {
	for _, c := range cells {
		if !isBlank(c) {
			return true
		}
	}
	return false
}

// EffectiveSequence applies the replacement cells to the original tokens.
// Each position takes its replacement when present, else the original token,
// and is re-split on whitespace. A position with no tokens keeps one empty
// placeholder. Only trailing empty entries are dropped.
func EffectiveSequence(original, cells []string) []string {
	n := max(len(original), len(cells))
	seq := make([]string, 0, n)
	for p := 0; p < n; p++ {
		v := at(original, p)
		if c := at(cells, p); !isBlank(c) {
			v = c
		}
		tokens := Tokenize(v)
		if len(tokens) == 0 {
			seq = append(seq, "")
			continue
		}
		seq = append(seq, tokens...)
	}
	return trimTrailing(seq)
}

func trimTrailing(seq []string) []string {
	end := len(seq)
	for end > 0 && seq[end-1] == "" {
		end--
	}
	return seq[:end]
}

func at(list []string, p int) string {
	if p < len(list) {
		return list[p]
	}
	return ""
}

// Pad right-pads the shorter sequence with empty strings so both have the
// same length. The inputs are not modified.
func Pad(a, b []string) ([]string, []string) {
	n := max(len(a), len(b))
	return padTo(a, n), padTo(b, n)
}

func padTo(seq []string, n int) []string {
	out := make([]string, n)
	copy(out, seq)
	return out
}

// ShouldChange returns the per-position change flag over n positions,
// derived from the raw annotation cells only.
func ShouldChange(cells []string, n int) []bool {
	out := make([]bool, n)
	for p := range out {
		out[p] = !isBlank(at(cells, p))
	}
	return out
}

// Align compares two equal length sequences position by position.
func Align(a, b []string) []bool {
	match := make([]bool, len(a))
	for p := range match {
		match[p] = p < len(b) && a[p] == b[p]
	}
	return match
}

// Tally derives the confusion matrix from the change and match masks.
func Tally(change, match []bool) Counts {
	var c Counts
	for p := range match {
		switch {
		case change[p] && match[p]:
			c.TP++
		case !change[p] && match[p]:
			c.TN++
		case !change[p] && !match[p]:
			c.FP++
		default:
			c.FN++
		}
	}
	return c
}

// Score aligns the effective annotation sequence of p against its model output.
func Score(p Pair) (*Result, error) {
	if !HasAnnotation(p.Cells) {
		return nil, fmt.Errorf("doc %d %s: %w", p.Doc, p.Type.Code, ErrMissingAnnotation)
	}
	if len(p.Original) == 0 {
		return nil, fmt.Errorf("doc %d %s: no original tokens: %w", p.Doc, p.Type.Code, ErrMalformedPair)
	}

	ann, model := Pad(EffectiveSequence(p.Original, p.Cells), Tokenize(p.Output))
	match := Align(ann, model)
	change := ShouldChange(p.Cells, len(match))
	counts := Tally(change, match)

	return &Result{
		Doc:        p.Doc,
		Type:       p.Type,
		Annotation: ann,
		Model:      model,
		Match:      match,
		Change:     change,
		Counts:     counts,
		Recall:     counts.Recall(),
		Precision:  counts.Precision(),
		Accuracy:   counts.Accuracy(),
	}, nil
}
