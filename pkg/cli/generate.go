package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/generate"
	urfave "github.com/urfave/cli/v3"
)

const (
	modelFlagName      = "model"
	baseURLFlagName    = "base-url"
	maxTokensFlagName  = "max-tokens"
	exportOnlyFlagName = "export-only"
)

func newGenerateCmd() *urfave.Command {
	flags := append(promptFlags(),
		&urfave.StringFlag{
			Name:     outFlagName,
			Usage:    "Outputs table to write (index plus one column per transformation code)",
			Required: true,
		},
		&urfave.StringFlag{
			Name:  modelFlagName,
			Usage: "Model name sent to the endpoint (default: config)",
		},
		&urfave.StringFlag{
			Name:  baseURLFlagName,
			Usage: "OpenAI compatible API base URL (default: config)",
		},
		&urfave.IntFlag{
			Name:  maxTokensFlagName,
			Usage: "Maximum new tokens per completion (default: config)",
		},
		&urfave.IntFlag{
			Name:  workersFlagName,
			Usage: "Number of concurrent completions (default: config)",
		},
		&urfave.BoolFlag{
			Name:  exportOnlyFlagName,
			Usage: "Only export the outputs already stored for the model",
		},
	)

	return &urfave.Command{
		Name:    "generate",
		Aliases: []string{"g"},
		Usage:   "Collect model rewrites for the prompts and export the outputs table",
		UsageText: `swapeval generate --notes obgyn_notes_F.csv --dir prompts --annotations kw.csv --out swapped.csv
   swapeval generate --notes obgyn_notes_F.csv --dir prompts --out swapped.csv --export-only`,
		Action: cmdGenerate,
		Flags:  flags,
	}
}

// GenerateResult is the command output of a generation batch.
type GenerateResult struct {
	Stats    *generate.Stats `json:"stats" yaml:"stats"`
	Outputs  string          `json:"outputs" yaml:"outputs"`
	Exported int             `json:"exported" yaml:"exported"`
	Duration string          `json:"duration" yaml:"duration"`
}

func cmdGenerate(ctx context.Context, cmd *urfave.Command) error {
	start := time.Now()
	cfg := getConfig(ctx)
	if cfg.DB == nil {
		return errNoDB
	}
	gc := cfg.Config.Generate

	opts := generate.Options{
		BaseURL:     firstNonEmpty(cmd.String(baseURLFlagName), gc.BaseURL),
		Model:       firstNonEmpty(cmd.String(modelFlagName), gc.Model),
		MaxTokens:   gc.MaxTokens,
		Temperature: gc.Temperature,
	}
	if n := int(cmd.Int(maxTokensFlagName)); n > 0 {
		opts.MaxTokens = n
	}

	reqs, codes, err := buildRequests(ctx, cmd)
	if err != nil {
		return err
	}

	res := &GenerateResult{
		Stats:   &generate.Stats{Model: opts.Model, Requests: len(reqs)},
		Outputs: cmd.String(outFlagName),
	}

	if !cmd.Bool(exportOnlyFlagName) {
		token, err := getAPIToken()
		if err != nil {
			slog.Debug("no api token, calling endpoint without auth", "error", err)
		}
		opts.Token = token

		client, err := generate.NewClient(ctx, opts)
		if err != nil {
			return fmt.Errorf("creating completion client: %w", err)
		}

		workers := int(cmd.Int(workersFlagName))
		if workers <= 0 {
			workers = gc.Workers
		}

		stats, err := generate.Run(ctx, cfg.DB, client, client.Model(), reqs, workers)
		if stats != nil {
			res.Stats = stats
		}
		if err != nil {
			return fmt.Errorf("generating (%d stored before failure): %w", res.Stats.Generated, err)
		}
	}

	list, err := data.GetGenerations(cfg.DB, opts.Model)
	if err != nil {
		return err
	}
	if err := writeFile(res.Outputs, func(w io.Writer) error { return generate.WriteOutputs(w, list, codes) }); err != nil {
		return err
	}
	res.Exported = len(list)
	slog.Info("outputs written", "path", res.Outputs, "generations", len(list))

	res.Duration = time.Since(start).String()
	return encode(ctx, res)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
