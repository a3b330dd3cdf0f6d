package score

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Failure kinds reported at the end of a batch.
const (
	KindMissingAnnotation = "missing_annotation"
	KindMalformed         = "malformed"
)

// Failure records a pair that was skipped or could not be scored.
type Failure struct {
	Doc     int    `json:"doc" yaml:"doc"`
	Type    string `json:"type" yaml:"type"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

// Skipped reports whether the failure is a skip rather than an error.
func (f Failure) Skipped() bool {
	return f.Kind == KindMissingAnnotation
}

// NewFailure classifies err for the given pair.
func NewFailure(doc int, code string, err error) Failure {
	kind := KindMalformed
	if errors.Is(err, ErrMissingAnnotation) {
		kind = KindMissingAnnotation
	}
	return Failure{Doc: doc, Type: code, Kind: kind, Message: err.Error()}
}

// ScoreAll scores every pair independently using up to workers goroutines.
// Results keep the input order. A failing pair is recorded and the batch
// continues; only context cancellation aborts it.
func ScoreAll(ctx context.Context, pairs []Pair, workers int) ([]*Result, []Failure, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out := make([]*Result, len(pairs))
	errs := make([]error, len(pairs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range pairs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i], errs[i] = Score(pairs[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	results := make([]*Result, 0, len(pairs))
	failures := make([]Failure, 0)
	for i, r := range out {
		if errs[i] != nil {
			f := NewFailure(pairs[i].Doc, pairs[i].Type.Code, errs[i])
			if f.Skipped() {
				slog.Debug("pair skipped", "doc", f.Doc, "type", f.Type)
			} else {
				slog.Error("pair failed", "doc", f.Doc, "type", f.Type, "error", errs[i])
			}
			failures = append(failures, f)
			continue
		}
		results = append(results, r)
	}

	return results, failures, nil
}
