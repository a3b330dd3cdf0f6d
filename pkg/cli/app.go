package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mchmarny/swapeval/pkg/config"
	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/logging"
	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName = "swapeval"
	dirMode = 0700

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	stdout io.Writer = os.Stdout
)

const (
	debugFlagName  = "debug"
	dbFlagName     = "db"
	formatFlagName = "format"
	configFlagName = "config"
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	DBPath string
	Debug  bool
	Format string
	Home   string
	DB     *sql.DB
	Config *config.Config
}

type appConfigKey struct{}

func getConfig(ctx context.Context) *appConfig {
	if cfg, ok := ctx.Value(appConfigKey{}).(*appConfig); ok {
		return cfg
	}
	return &appConfig{Format: formatJSON, Config: &config.Config{}}
}

func newApp() *urfave.Command {
	var cfg *appConfig

	return &urfave.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Score gender swap rewrites of clinical notes against token level annotations",
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  debugFlagName,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&urfave.StringFlag{
				Name:    dbFlagName,
				Usage:   "Path to the Sqlite database file",
				Sources: urfave.EnvVars("SWAPEVAL_DB"),
			},
			&urfave.StringFlag{
				Name:  formatFlagName,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
			},
			&urfave.StringFlag{
				Name:    configFlagName,
				Usage:   "Path to the YAML config file (default: config.yaml in the app home dir)",
				Sources: urfave.EnvVars("SWAPEVAL_CONFIG"),
			},
		},
		Commands: []*urfave.Command{
			newScoreCmd(),
			newExtractCmd(),
			newPromptCmd(),
			newGenerateCmd(),
			newAuthCmd(),
			newRunsCmd(),
			newResetCmd(),
		},
		Before: func(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
			home := getHomeDir()

			cfgPath := cmd.String(configFlagName)
			if cfgPath == "" {
				cfgPath = config.FindFile(home)
			}
			c, err := config.Load(cfgPath)
			if err != nil {
				return ctx, fmt.Errorf("loading config: %w", err)
			}

			level := c.Log.Level
			if cmd.Bool(debugFlagName) {
				level = "debug"
			}
			logging.SetDefaultCLILogger(level)

			format := formatJSON
			if f := cmd.String(formatFlagName); f == formatYAML || f == "yml" {
				format = formatYAML
			}

			dbPath := cmd.String(dbFlagName)
			if dbPath == "" {
				dbPath = filepath.Join(home, data.DataFileName)
			}

			if err := data.Init(dbPath); err != nil {
				return ctx, fmt.Errorf("initializing database: %w", err)
			}

			db, err := data.GetDB(dbPath)
			if err != nil {
				return ctx, fmt.Errorf("opening database: %w", err)
			}

			cfg = &appConfig{
				DBPath: dbPath,
				Debug:  cmd.Bool(debugFlagName),
				Format: format,
				Home:   home,
				DB:     db,
				Config: c,
			}
			return context.WithValue(ctx, appConfigKey{}, cfg), nil
		},
		After: func(_ context.Context, _ *urfave.Command) error {
			if cfg != nil && cfg.DB != nil {
				cfg.DB.Close()
			}
			return nil
		},
	}
}

func getHomeDir() string {
	dir, _, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		slog.Debug("error getting home dir, using current dir instead", "error", err)
		return "."
	}
	return dir
}

func encode(ctx context.Context, v any) error {
	if getConfig(ctx).Format == formatYAML {
		e := yaml.NewEncoder(stdout)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(stdout)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

// writeFile creates path, and its parent dir when missing, and streams
// the write func into it.
func writeFile(path string, write func(io.Writer) error) (retErr error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("creating dir for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

var errNoDB = errors.New("database not available")
