package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mchmarny/swapeval/pkg/prompt"
	"github.com/mchmarny/swapeval/pkg/score"
	"github.com/mchmarny/swapeval/pkg/table"
	urfave "github.com/urfave/cli/v3"
)

const (
	notesFlagName  = "notes"
	columnFlagName = "column"
	dirFlagName    = "dir"
	limitFlagName  = "limit"
)

func promptFlags() []urfave.Flag {
	return []urfave.Flag{
		&urfave.StringFlag{
			Name:     notesFlagName,
			Usage:    "Notes table holding the text to rewrite",
			Required: true,
		},
		&urfave.StringFlag{
			Name:  columnFlagName,
			Usage: "Notes table column holding the text (default: config or prompt)",
		},
		&urfave.StringFlag{
			Name:  dirFlagName,
			Usage: "Directory with {code}_prompt.txt templates and example_notes/ (default: config)",
		},
		&urfave.StringSliceFlag{
			Name:    annotationsFlagName,
			Aliases: []string{"a"},
			Usage:   "Annotation tables whose documents are ordered first (can be specified multiple times)",
		},
		&urfave.StringSliceFlag{
			Name:  typeFlagName,
			Usage: "Transformation code to prompt for (can be specified multiple times, default: all configured)",
		},
		&urfave.IntFlag{
			Name:  limitFlagName,
			Usage: "Only use the first N documents after ordering (default: all)",
		},
	}
}

func newPromptCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "prompt",
		Aliases:   []string{"p"},
		Usage:     "Build few-shot gender swap prompts for every note and transformation",
		UsageText: `swapeval prompt --notes obgyn_notes_F.csv --dir prompts --annotations kw.csv --out prompts.csv`,
		Action:    cmdPrompt,
		Flags: append(promptFlags(), &urfave.StringFlag{
			Name:  outFlagName,
			Usage: "Write the prompts to this CSV instead of printing them",
		}),
	}
}

// buildRequests loads the notes and templates and returns the prompts in
// generation order.
func buildRequests(ctx context.Context, cmd *urfave.Command) ([]prompt.Request, []string, error) {
	gc := getConfig(ctx).Config.Generate

	types, err := selectTypes(getConfig(ctx).Config.Score.Types, cmd.StringSlice(typeFlagName))
	if err != nil {
		return nil, nil, err
	}
	codes := score.Codes(types)

	column := cmd.String(columnFlagName)
	if column == "" {
		column = gc.NoteColumn
	}
	notes, err := prompt.LoadNotes(cmd.String(notesFlagName), column)
	if err != nil {
		return nil, nil, err
	}

	var annotated []int
	if paths := cmd.StringSlice(annotationsFlagName); len(paths) > 0 {
		anns, err := table.LoadAnnotations(paths...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading annotations: %w", err)
		}
		annotated = anns.Docs()
	}

	docs := prompt.Order(notes.Order, annotated, prompt.ShuffleSeed)
	if n := int(cmd.Int(limitFlagName)); n > 0 && n < len(docs) {
		docs = docs[:n]
	}

	dir := cmd.String(dirFlagName)
	if dir == "" {
		dir = gc.PromptDir
	}
	ids := gc.ExampleIDs
	if len(ids) == 0 {
		ids = prompt.DefaultExampleIDs
	}
	count := gc.ExampleCount
	if count <= 0 {
		count = prompt.DefaultExampleCount
	}

	templates, err := prompt.LoadTemplates(dir, codes, ids, count)
	if err != nil {
		return nil, nil, err
	}

	reqs, err := prompt.Requests(docs, notes.Text, templates)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("prompts built", "docs", len(docs), "types", len(codes), "annotated", len(annotated))
	return reqs, codes, nil
}

func cmdPrompt(ctx context.Context, cmd *urfave.Command) error {
	reqs, _, err := buildRequests(ctx, cmd)
	if err != nil {
		return err
	}

	out := cmd.String(outFlagName)
	if out == "" {
		return encode(ctx, reqs)
	}

	if err := writeFile(out, func(w io.Writer) error { return prompt.WriteRequests(w, reqs) }); err != nil {
		return err
	}
	slog.Info("prompts written", "path", out, "count", len(reqs))
	return nil
}
