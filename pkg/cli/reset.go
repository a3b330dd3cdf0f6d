package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/swapeval/pkg/data"
	urfave "github.com/urfave/cli/v3"
)

const yesFlagName = "yes"

func newResetCmd() *urfave.Command {
	return &urfave.Command{
		Name:            "reset",
		Usage:           "Delete all stored runs and generations and start fresh",
		HideHelpCommand: true,
		Action:          cmdReset,
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  yesFlagName,
				Usage: "Do not ask for confirmation",
			},
		},
	}
}

func cmdReset(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)
	if cfg.DBPath == "" {
		return errNoDB
	}

	if !cmd.Bool(yesFlagName) {
		fmt.Fprintf(stdout, "This will permanently delete all data in %s\n", cfg.DBPath)
		fmt.Fprint(stdout, "Are you sure? [y/N]: ")

		answer, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	// close the DB before deleting the file
	if cfg.DB != nil {
		cfg.DB.Close()
		cfg.DB = nil
	}

	if err := os.Remove(cfg.DBPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting database: %w", err)
	}

	slog.Info("database deleted", "path", cfg.DBPath)

	// re-initialize empty database
	if err := data.Init(cfg.DBPath); err != nil {
		return fmt.Errorf("re-initializing database: %w", err)
	}

	slog.Info("database re-initialized", "path", cfg.DBPath)
	fmt.Fprintln(stdout, "Reset complete.")
	return nil
}
