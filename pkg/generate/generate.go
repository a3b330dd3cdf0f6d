package generate

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/prompt"
	"golang.org/x/sync/errgroup"
)

// IndexColumn heads the document column of the exported outputs table.
const IndexColumn = "index"

// Stats counts the outcome of a generation batch.
type Stats struct {
	Model     string `json:"model" yaml:"model"`
	Requests  int    `json:"requests" yaml:"requests"`
	Generated int    `json:"generated" yaml:"generated"`
	Existing  int    `json:"existing" yaml:"existing"`
}

// Run completes every request not yet stored for model and saves each
// output as it arrives. The first completion or storage error stops the batch.
func Run(ctx context.Context, db *sql.DB, c Completer, model string, requests []prompt.Request, workers int) (*Stats, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if workers <= 0 {
		workers = 1
	}

	var generated, existing atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range requests {
		r := requests[i]
		g.Go(func() error {
			ok, err := data.HasGeneration(db, r.Doc, r.Code, model)
			if err != nil {
				return err
			}
			if ok {
				existing.Add(1)
				return nil
			}

			out, err := c.Complete(ctx, r.Prompt)
			if err != nil {
				return fmt.Errorf("document %d %s: %w", r.Doc, r.Code, err)
			}

			if err := data.SaveGeneration(db, &data.Generation{
				Doc:    r.Doc,
				Type:   r.Code,
				Model:  model,
				Output: out,
			}); err != nil {
				return err
			}

			n := generated.Add(1)
			slog.Debug("generated", "doc", r.Doc, "type", r.Code, "count", n)
			return nil
		})
	}

	err := g.Wait()
	s := &Stats{
		Model:     model,
		Requests:  len(requests),
		Generated: int(generated.Load()),
		Existing:  int(existing.Load()),
	}
	return s, err
}

// WriteOutputs writes stored generations as the outputs table: one row per
// document in ascending order and one column per code.
func WriteOutputs(w io.Writer, list []*data.Generation, codes []string) error {
	byDoc := make(map[int]map[string]string)
	for _, g := range list {
		m, ok := byDoc[g.Doc]
		if !ok {
			m = make(map[string]string, len(codes))
			byDoc[g.Doc] = m
		}
		m[g.Type] = g.Output
	}

	docs := make([]int, 0, len(byDoc))
	for d := range byDoc {
		docs = append(docs, d)
	}
	sort.Ints(docs)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{IndexColumn}, codes...)); err != nil {
		return fmt.Errorf("writing outputs header: %w", err)
	}

	row := make([]string, len(codes)+1)
	for _, d := range docs {
		row[0] = fmt.Sprint(d)
		for i, c := range codes {
			row[i+1] = byDoc[d][c]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing outputs row %d: %w", d, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
