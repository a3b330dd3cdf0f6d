package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/swapeval/pkg/prompt"
	"github.com/mchmarny/swapeval/pkg/score"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SWAPEVAL_SCORE_WORKERS.
	EnvPrefix = "SWAPEVAL"

	// FileName is the config file looked up in the app home dir.
	FileName = "config.yaml"

	dirMode = 0700
)

// Config represents app config object.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Score    ScoreConfig    `mapstructure:"score" yaml:"score" json:"score"`
	Extract  ExtractConfig  `mapstructure:"extract" yaml:"extract" json:"extract"`
	Generate GenerateConfig `mapstructure:"generate" yaml:"generate" json:"generate"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
}

// ScoreConfig holds scoring settings.
type ScoreConfig struct {
	Workers int                    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Types   []score.Transformation `mapstructure:"types" yaml:"types" json:"types"`
}

// ExtractConfig holds note extraction settings.
type ExtractConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// GenerateConfig holds prompt and completion endpoint settings.
type GenerateConfig struct {
	BaseURL      string   `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model        string   `mapstructure:"model" yaml:"model" json:"model"`
	MaxTokens    int      `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature  float64  `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	Workers      int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	PromptDir    string   `mapstructure:"prompt_dir" yaml:"prompt_dir" json:"prompt_dir"`
	NoteColumn   string   `mapstructure:"note_column" yaml:"note_column" json:"note_column"`
	ExampleIDs   []string `mapstructure:"example_ids" yaml:"example_ids" json:"example_ids"`
	ExampleCount int      `mapstructure:"example_count" yaml:"example_count" json:"example_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("score.workers", 0)

	v.SetDefault("extract.workers", 0)

	v.SetDefault("generate.base_url", "http://localhost:8000/v1")
	v.SetDefault("generate.model", "Qwen/Qwen2.5-3B-Instruct")
	v.SetDefault("generate.max_tokens", 1000)
	v.SetDefault("generate.temperature", 0.0)
	v.SetDefault("generate.workers", 1)
	v.SetDefault("generate.prompt_dir", ".")
	v.SetDefault("generate.note_column", prompt.DefaultNoteColumn)
	v.SetDefault("generate.example_ids", prompt.DefaultExampleIDs)
	v.SetDefault("generate.example_count", prompt.DefaultExampleCount)
}

// Load reads configuration from SWAPEVAL_ environment variables, the
// optional YAML file at path, and defaults, highest precedence first.
// A missing file at path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		slog.Debug("config loaded", "path", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if len(cfg.Score.Types) == 0 {
		cfg.Score.Types = score.DefaultTransformations()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Score.Types))
	for _, t := range c.Score.Types {
		if t.Code == "" {
			return errors.New("transformation code required")
		}
		if seen[t.Code] {
			return fmt.Errorf("duplicate transformation code %q", t.Code)
		}
		seen[t.Code] = true
	}
	return nil
}

// FindFile returns the config file in dir, or empty when there is none.
func FindFile(dir string) string {
	p := filepath.Join(dir, FileName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
