package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/swapeval/pkg/data"
	urfave "github.com/urfave/cli/v3"
)

const (
	runLimitDefault = 20
	idFlagName      = "id"
)

func newRunsCmd() *urfave.Command {
	return &urfave.Command{
		Name:            "runs",
		Aliases:         []string{"r"},
		HideHelpCommand: true,
		Usage:           "List and inspect stored scoring runs",
		Commands: []*urfave.Command{
			{
				Name:   "list",
				Usage:  "List the most recent runs",
				Action: cmdListRuns,
				Flags: []urfave.Flag{
					&urfave.IntFlag{
						Name:  limitFlagName,
						Usage: fmt.Sprintf("Number of runs to list (default: %d)", runLimitDefault),
						Value: runLimitDefault,
					},
				},
			},
			{
				Name:   "show",
				Usage:  "Show the per type aggregates and failures of a run",
				Action: cmdShowRun,
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:     idFlagName,
						Usage:    "Run ID",
						Required: true,
					},
				},
			},
		},
	}
}

func cmdListRuns(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)
	if cfg.DB == nil {
		return errNoDB
	}

	list, err := data.ListRuns(cfg.DB, int(cmd.Int(limitFlagName)))
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return encode(ctx, list)
}

func cmdShowRun(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)
	if cfg.DB == nil {
		return errNoDB
	}

	id := cmd.String(idFlagName)
	d, err := data.GetRunDetail(cfg.DB, id)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}
	if d == nil {
		return fmt.Errorf("run %s not found", id)
	}
	return encode(ctx, d)
}
