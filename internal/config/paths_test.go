package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	t.Run("returns paths based on home directory", func(t *testing.T) {
		t.Setenv(RootEnv, "")

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths failed: %v", err)
		}

		if filepath.Base(paths.Root) != ".deltaserve" {
			t.Errorf("Root should end with .deltaserve, got: %s", paths.Root)
		}
		if paths.Repo != filepath.Join(paths.Root, "repo") {
			t.Errorf("Repo path incorrect: got %s", paths.Repo)
		}
		if paths.Config != filepath.Join(paths.Root, "config.yaml") {
			t.Errorf("Config path incorrect: got %s", paths.Config)
		}
	})

	t.Run("respects DELTASERVE_ROOT", func(t *testing.T) {
		customRoot := "/custom/deltaserve/path"
		t.Setenv(RootEnv, customRoot)

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths failed: %v", err)
		}
		if paths.Root != customRoot {
			t.Errorf("Expected root %s, got %s", customRoot, paths.Root)
		}
		if paths.Repo != filepath.Join(customRoot, "repo") {
			t.Errorf("Repo should be under custom root, got: %s", paths.Repo)
		}
	})
}

func TestPaths_EnsureDirectories(t *testing.T) {
	t.Run("creates nested root", func(t *testing.T) {
		paths := PathsAt(filepath.Join(t.TempDir(), "a", "b", "deltaserve"))

		if err := paths.EnsureDirectories(); err != nil {
			t.Fatalf("EnsureDirectories failed: %v", err)
		}
		if _, err := os.Stat(paths.Root); err != nil {
			t.Errorf("Root directory was not created: %v", err)
		}
	})

	t.Run("succeeds if directories already exist", func(t *testing.T) {
		paths := PathsAt(t.TempDir())
		if err := paths.EnsureDirectories(); err != nil {
			t.Errorf("EnsureDirectories should succeed with existing dirs: %v", err)
		}
	})
}
