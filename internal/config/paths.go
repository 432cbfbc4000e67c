// Package config manages deltaserve configuration and filesystem paths.
//
// The data root defaults to ~/.deltaserve and can be moved with the
// DELTASERVE_ROOT environment variable. It holds the repository under repo/
// and the server configuration in config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnv overrides the data root.
const RootEnv = "DELTASERVE_ROOT"

// Paths contains all the filesystem paths used by deltaserve.
type Paths struct {
	// Root is the base directory for all deltaserve data (default: ~/.deltaserve)
	Root string

	// Repo is the default repository directory
	Repo string

	// Config is the path to the config file
	Config string
}

// DefaultPaths returns the default paths, honouring DELTASERVE_ROOT.
func DefaultPaths() (*Paths, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".deltaserve")
	}
	return PathsAt(root), nil
}

// PathsAt returns the paths under root.
func PathsAt(root string) *Paths {
	return &Paths{
		Root:   root,
		Repo:   filepath.Join(root, "repo"),
		Config: filepath.Join(root, "config.yaml"),
	}
}

// EnsureDirectories creates the root directory if it doesn't exist. The
// repository creates its own directory on open.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.Root, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.Root, err)
	}
	return nil
}
