package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/score"
	"github.com/mchmarny/swapeval/pkg/table"
	urfave "github.com/urfave/cli/v3"
)

const (
	outputsFlagName     = "outputs"
	annotationsFlagName = "annotations"
	docFlagName         = "doc"
	typeFlagName        = "type"
	auditFlagName       = "audit"
	longFlagName        = "long"
	summaryFlagName     = "summary"
	xlsxFlagName        = "xlsx"
	workersFlagName     = "workers"
	noStoreFlagName     = "no-store"
)

func newScoreCmd() *urfave.Command {
	return &urfave.Command{
		Name:    "score",
		Aliases: []string{"s"},
		Usage:   "Score model rewrites against token level annotations",
		UsageText: `swapeval score --outputs swapped.csv --annotations kw.csv --annotations ic.xlsx
   swapeval score --outputs swapped.csv --annotations kw.csv --doc 12 --doc 40 --type F->M
   swapeval score --outputs swapped.csv --annotations kw.csv --long long.csv --xlsx report.xlsx`,
		Action: cmdScore,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     outputsFlagName,
				Usage:    "Model outputs table (index column plus one column per transformation code)",
				Required: true,
			},
			&urfave.StringSliceFlag{
				Name:     annotationsFlagName,
				Aliases:  []string{"a"},
				Usage:    "Annotation table, CSV or XLSX (can be specified multiple times)",
				Required: true,
			},
			&urfave.IntSliceFlag{
				Name:  docFlagName,
				Usage: "Document index to score (can be specified multiple times, default: all annotated)",
			},
			&urfave.StringSliceFlag{
				Name:  typeFlagName,
				Usage: "Transformation code to score (can be specified multiple times, default: all configured)",
			},
			&urfave.StringFlag{
				Name:  auditFlagName,
				Usage: "Write the per pair audit table (annotation, model, match) to this CSV",
			},
			&urfave.StringFlag{
				Name:  longFlagName,
				Usage: "Write the long form metric table to this CSV",
			},
			&urfave.StringFlag{
				Name:  summaryFlagName,
				Usage: "Write the per type summary to this CSV",
			},
			&urfave.StringFlag{
				Name:  xlsxFlagName,
				Usage: "Write summary, long form and audit sheets to this XLSX workbook",
			},
			&urfave.IntFlag{
				Name:  workersFlagName,
				Usage: "Number of concurrent scorers (default: config or number of CPUs)",
			},
			&urfave.BoolFlag{
				Name:  noStoreFlagName,
				Usage: "Do not persist the run in the database",
			},
		},
	}
}

// ScoreResult is the command output of a scoring batch.
type ScoreResult struct {
	RunID       string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Duration    string             `json:"duration" yaml:"duration"`
	Pairs       int                `json:"pairs" yaml:"pairs"`
	Summaries   []score.Summary    `json:"summaries" yaml:"summaries"`
	Comparisons []score.Comparison `json:"comparisons,omitempty" yaml:"comparisons,omitempty"`
	Failures    []score.Failure    `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func cmdScore(ctx context.Context, cmd *urfave.Command) error {
	start := time.Now()
	cfg := getConfig(ctx)

	types, err := selectTypes(cfg.Config.Score.Types, cmd.StringSlice(typeFlagName))
	if err != nil {
		return err
	}

	outputsPath := cmd.String(outputsFlagName)
	outputs, err := table.LoadOutputs(outputsPath)
	if err != nil {
		return fmt.Errorf("loading outputs: %w", err)
	}

	annPaths := cmd.StringSlice(annotationsFlagName)
	anns, err := table.LoadAnnotations(annPaths...)
	if err != nil {
		return fmt.Errorf("loading annotations: %w", err)
	}

	docs := dedupe(cmd.IntSlice(docFlagName))
	if len(docs) == 0 {
		docs = anns.Docs()
	}
	slog.Debug("scoring", "docs", len(docs), "types", len(types), "columns", anns.Len())

	pairs, failures := anns.Pairs(types, docs, outputs)

	workers := int(cmd.Int(workersFlagName))
	if workers <= 0 {
		workers = cfg.Config.Score.Workers
	}

	results, scoreFailures, err := score.ScoreAll(ctx, pairs, workers)
	if err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	failures = append(failures, scoreFailures...)

	summaries := score.Aggregate(types, results, failures)
	if err := writeScoreFiles(cmd, types, results, summaries); err != nil {
		return err
	}

	res := &ScoreResult{
		Pairs:       len(results) + len(failures),
		Summaries:   summaries,
		Comparisons: score.Comparisons(types),
		Failures:    failures,
	}

	if !cmd.Bool(noStoreFlagName) {
		if cfg.DB == nil {
			return errNoDB
		}
		run := data.NewRun(outputsPath, annPaths, results, failures)
		if err := data.SaveRun(cfg.DB, run, results, failures); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		res.RunID = run.ID
	}

	for _, f := range failures {
		if f.Skipped() {
			slog.Debug("pair skipped", "doc", f.Doc, "type", f.Type, "reason", f.Message)
			continue
		}
		slog.Warn("pair failed", "doc", f.Doc, "type", f.Type, "reason", f.Message)
	}

	res.Duration = time.Since(start).String()
	return encode(ctx, res)
}

func writeScoreFiles(cmd *urfave.Command, types []score.Transformation, results []*score.Result, summaries []score.Summary) error {
	obs := score.LongForm(results)

	if p := cmd.String(auditFlagName); p != "" {
		if err := writeFile(p, func(w io.Writer) error { return table.WriteAudit(w, results) }); err != nil {
			return err
		}
		slog.Info("audit table written", "path", p)
	}

	if p := cmd.String(longFlagName); p != "" {
		if err := writeFile(p, func(w io.Writer) error { return table.WriteLongForm(w, obs) }); err != nil {
			return err
		}
		slog.Info("long form table written", "path", p)
	}

	if p := cmd.String(summaryFlagName); p != "" {
		if err := writeFile(p, func(w io.Writer) error { return table.WriteSummary(w, summaries) }); err != nil {
			return err
		}
		slog.Info("summary table written", "path", p)
	}

	if p := cmd.String(xlsxFlagName); p != "" {
		rep := &table.Report{Summaries: summaries, Observations: obs, Results: results}
		if err := table.SaveWorkbook(p, rep); err != nil {
			return fmt.Errorf("writing workbook: %w", err)
		}
		slog.Info("workbook written", "path", p, "types", len(types))
	}

	return nil
}

// selectTypes returns the configured transformations restricted to codes,
// in configured order. Unknown codes are an error.
func selectTypes(all []score.Transformation, codes []string) ([]score.Transformation, error) {
	if len(all) == 0 {
		all = score.DefaultTransformations()
	}
	if len(codes) == 0 {
		return all, nil
	}

	for _, c := range codes {
		if !slices.ContainsFunc(all, func(t score.Transformation) bool { return t.Code == c }) {
			return nil, fmt.Errorf("unknown transformation code %q", c)
		}
	}

	list := make([]score.Transformation, 0, len(codes))
	for _, t := range all {
		if slices.Contains(codes, t.Code) {
			list = append(list, t)
		}
	}
	return list, nil
}

func dedupe[T comparable](list []T) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
