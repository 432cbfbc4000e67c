package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/deltaserve/internal/auth"
	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/config"
	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/hash"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// resolvePaths returns the data paths, honouring --root.
func resolvePaths() (*config.Paths, error) {
	if rootDir != "" {
		return config.PathsAt(rootDir), nil
	}
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	return paths, nil
}

// loadConfig reads the config file. A missing default config file falls
// back to the defaults; a missing --config file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Paths, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, nil, err
	}

	path := configPath
	if path == "" {
		path = paths.Config
	}
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case configPath == "" && errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, nil, err
	}
	if cfg.Repository.Path == "" {
		cfg.Repository.Path = paths.Repo
	}

	applyVerbosity(cmd, cfg.Log.Verbosity)
	return cfg, paths, nil
}

// applyVerbosity sets the glog verbosity unless -v was given.
func applyVerbosity(cmd *cobra.Command, level int) {
	if level <= 0 {
		return
	}
	if f := cmd.Flags().Lookup("v"); f != nil && f.Changed {
		return
	}
	if f := flag.Lookup("v"); f != nil {
		_ = f.Value.Set(strconv.Itoa(level))
	}
}

// openRepository opens (creating if needed) the repository on disk.
func openRepository(cfg *config.Config) (*repo.FileRepository, error) {
	if err := os.MkdirAll(cfg.Repository.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	r, err := repo.OpenFileRepository(fsops.NewOSFS(cfg.Repository.Path), hash.NewSHA256Hasher(), &clock.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", cfg.Repository.Path, err)
	}
	return r, nil
}

// newAuthenticator builds the authenticator described by cfg.
func newAuthenticator(cfg *config.Config) (*auth.Static, error) {
	return auth.NewStatic(cfg.Server.Realm, cfg.Auth.Anonymous, cfg.Auth.Users)
}

// formatError formats an error for display.
func formatError(err error) string {
	return errorColor.Sprintf("Error: %v", err)
}

// outputJSON outputs a value as JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
