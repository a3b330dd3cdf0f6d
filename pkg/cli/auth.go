package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	urfave "github.com/urfave/cli/v3"
	"github.com/zalando/go-keyring"
)

const (
	tokenFileName  = "api_token"
	tokenEnvVar    = "SWAPEVAL_API_TOKEN"
	keyringService = "swapeval"
	keyringUser    = "api_token"
	tokenFlagName  = "token"
)

var (
	stdin io.Reader = os.Stdin

	errNoToken = errors.New("no API token, run auth first")
)

func newAuthCmd() *urfave.Command {
	return &urfave.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Save the completion endpoint API token to the OS keychain",
		Action:          cmdAuth,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:  tokenFlagName,
				Usage: "API token (default: read from stdin)",
			},
		},
	}
}

func cmdAuth(_ context.Context, cmd *urfave.Command) error {
	token := cmd.String(tokenFlagName)
	if token == "" {
		fmt.Fprint(stdout, "API token: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("token required")
	}

	if err := saveAPIToken(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	fmt.Fprintln(stdout, "Token saved")
	return nil
}

func saveAPIToken(token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return saveAPITokenFile(token)
	}

	// Clean up legacy file if it exists
	os.Remove(tokenFilePath())

	return nil
}

// getAPIToken returns the token from the environment, the keychain, or the
// fallback file, in that order.
func getAPIToken() (string, error) {
	if token := os.Getenv(tokenEnvVar); token != "" {
		return token, nil
	}

	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token, nil
	}

	token, err = getAPITokenFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errNoToken
		}
		return "", err
	}

	// Migrate to keychain
	if migrateErr := keyring.Set(keyringService, keyringUser, token); migrateErr == nil {
		slog.Info("migrated token from file to OS keychain")
		os.Remove(tokenFilePath())
	}

	return token, nil
}

func tokenFilePath() string {
	return filepath.Join(getHomeDir(), tokenFileName)
}

func saveAPITokenFile(token string) error {
	return os.WriteFile(tokenFilePath(), []byte(token), 0600)
}

func getAPITokenFile() (string, error) {
	p := tokenFilePath()
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("reading token file %s: %w", p, err)
	}
	return strings.TrimSpace(string(b)), nil
}
