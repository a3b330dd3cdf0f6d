package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mchmarny/swapeval/pkg/extract"
	urfave "github.com/urfave/cli/v3"
)

const (
	inputFlagName   = "input"
	outFlagName     = "out"
	serviceFlagName = "service"
)

func newExtractCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "extract",
		Aliases:   []string{"x"},
		Usage:     "Extract OB/GYN discharge notes and their sections from a clinical note dump",
		UsageText: `swapeval extract --input discharge.csv --out obgyn_notes.csv`,
		Action:    cmdExtract,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     inputFlagName,
				Usage:    "Discharge note CSV (note_id, subject_id, hadm_id, text)",
				Required: true,
			},
			&urfave.StringFlag{
				Name:     outFlagName,
				Usage:    "Extracted notes CSV to write",
				Required: true,
			},
			&urfave.StringFlag{
				Name:  serviceFlagName,
				Usage: "Service line a note must contain",
				Value: extract.ServiceOBGYN,
			},
			&urfave.IntFlag{
				Name:  workersFlagName,
				Usage: "Number of concurrent parsers (default: config or number of CPUs)",
			},
		},
	}
}

func cmdExtract(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)
	in := cmd.String(inputFlagName)

	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("opening %s: %w", in, err)
	}
	defer f.Close()

	records, total, err := extract.ReadDischarge(f, cmd.String(serviceFlagName))
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}
	slog.Debug("notes read", "total", total, "service", len(records))

	workers := int(cmd.Int(workersFlagName))
	if workers <= 0 {
		workers = cfg.Config.Extract.Workers
	}

	notes, problems, err := extract.Parse(ctx, records, workers)
	if err != nil {
		return fmt.Errorf("parsing notes: %w", err)
	}

	out := cmd.String(outFlagName)
	if err := writeFile(out, func(w io.Writer) error { return extract.WriteNotes(w, notes) }); err != nil {
		return err
	}

	for _, p := range problems {
		slog.Warn("note skipped", "note", p.NoteID, "kind", p.Kind, "section", p.Section)
	}
	slog.Info("notes extracted", "path", out, "count", len(notes))

	return encode(ctx, extract.NewReport(total, len(records), notes, problems))
}
